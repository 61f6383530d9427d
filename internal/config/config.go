package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Reconnect struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type Voice struct {
	STUNServers     []string      `mapstructure:"stun_servers"`
	LocalThreshold  float64       `mapstructure:"local_threshold"`
	RemoteThreshold float64       `mapstructure:"remote_threshold"`
	FFTSize         int           `mapstructure:"fft_size"`
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
}

type Config struct {
	Mode       string `mapstructure:"mode"`
	LogLevel   string `mapstructure:"log_level"`
	BridgePort int    `mapstructure:"bridge_port"`
	APIBaseURL string `mapstructure:"api_base_url"`
	WSURL      string `mapstructure:"ws_url"`
	Token      string `mapstructure:"token"`

	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	EventBuffer    int           `mapstructure:"event_buffer"`
	TypingInterval time.Duration `mapstructure:"typing_interval"`

	Reconnect Reconnect `mapstructure:"reconnect"`
	Voice     Voice     `mapstructure:"voice"`

	Secret string `mapstructure:"secret"`
	// BridgeOrigins are browser origins besides the bridge itself that may
	// call the API, e.g. a UI dev server.
	BridgeOrigins []string `mapstructure:"bridge_origins"`
	Channels      []string `mapstructure:"channels"`
	Realms        []string `mapstructure:"realms"`

	// File is the config file actually read, empty when running on defaults.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("bridge_port", 8090)
	v.SetDefault("api_base_url", "http://localhost:8080")
	v.SetDefault("ws_url", "ws://localhost:8080/ws")
	v.SetDefault("token", "")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("event_buffer", 64)
	v.SetDefault("typing_interval", "3s")
	v.SetDefault("reconnect.max_attempts", 5)
	v.SetDefault("reconnect.base_delay", "1s")
	v.SetDefault("reconnect.max_delay", "30s")
	v.SetDefault("voice.stun_servers", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
	v.SetDefault("voice.local_threshold", 15)
	v.SetDefault("voice.remote_threshold", 10)
	v.SetDefault("voice.fft_size", 256)
	v.SetDefault("voice.sample_interval", "16ms")
	v.SetDefault("secret", "realm-bridge")
	v.SetDefault("bridge_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("channels", []string{})
	v.SetDefault("realms", []string{})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("REALM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func fileName() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

// Load reads .env, then config/config.<CONFIG_ENV>.yaml, then REALM_*
// environment overrides. A missing file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Str("module", "config").Msg("no .env file")
	}
	return LoadFile(fileName())
}

func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	return read(v, path)
}

func read(v *viper.Viper, path string) (*Config, error) {
	logger := log.With().Str("module", "config").Logger()
	if err := v.ReadInConfig(); err != nil {
		logger.Warn().Str("file", path).Msg("config file not found, using defaults")
	} else {
		logger.Info().Str("file", path).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.File = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.File); err != nil {
		cfg.File = ""
	}
	logger.Info().Str("mode", cfg.Mode).Int("bridge_port", cfg.BridgePort).Str("api", cfg.APIBaseURL).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BridgePort <= 0 || c.BridgePort > 65535 {
		return errors.Errorf("bridge_port %d out of range", c.BridgePort)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must not be negative")
	}
	if n := c.Voice.FFTSize; n < 32 || n > 32768 || n&(n-1) != 0 {
		return errors.Errorf("voice.fft_size %d must be a power of two in [32, 32768]", n)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	return nil
}

// Level is the parsed log_level, info when unparseable.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Watch re-reads path on every write and hands the new config to onChange.
// Invalid edits are logged and skipped. It returns immediately.
func Watch(path string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Err(err).Msg("config watch disabled")
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			log.Warn().Str("module", "config").Err(err).Msg("config reload rejected")
			return
		}
		if err := cfg.validate(); err != nil {
			log.Warn().Str("module", "config").Err(err).Msg("config reload rejected")
			return
		}
		cfg.File = path
		log.Info().Str("module", "config").Str("file", e.Name).Msg("config reloaded")
		onChange(&cfg)
	})
	v.WatchConfig()
}
