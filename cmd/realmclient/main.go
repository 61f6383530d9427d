package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Realm/internal/adapters/http"
	"github.com/dkeye/Realm/internal/adapters/media"
	"github.com/dkeye/Realm/internal/adapters/rest"
	"github.com/dkeye/Realm/internal/adapters/rtc"
	"github.com/dkeye/Realm/internal/adapters/ws"
	"github.com/dkeye/Realm/internal/app/fanout"
	"github.com/dkeye/Realm/internal/app/realtime"
	"github.com/dkeye/Realm/internal/app/voice"
	"github.com/dkeye/Realm/internal/config"
	"github.com/dkeye/Realm/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	if cfg.File != "" {
		config.Watch(cfg.File, func(next *config.Config) {
			zerolog.SetGlobalLevel(next.Level())
		})
	}

	api := rest.New(rest.Options{BaseURL: cfg.APIBaseURL, Token: cfg.Token})
	profileCtx, profileCancel := context.WithTimeout(ctx, rest.DefaultTimeout)
	self, err := api.Profile(profileCtx)
	profileCancel()
	if err != nil {
		log.Fatal().Err(err).Str("kind", domain.KindOf(err).String()).Msg("could not load profile")
	}
	log.Info().Str("user", self.Name()).Msg("signed in")

	rt := realtime.NewClient(realtime.Options{
		URL:   cfg.WSURL,
		Token: cfg.Token,
		Dialer: ws.NewDialer(ws.Options{
			WriteTimeout: cfg.WriteTimeout,
			PingPeriod:   cfg.PingPeriod,
			ReadLimit:    cfg.ReadLimit,
		}),
		Backoff: realtime.Backoff{
			Base:        cfg.Reconnect.BaseDelay,
			Max:         cfg.Reconnect.MaxDelay,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
		TypingInterval: cfg.TypingInterval,
		EventBuffer:    cfg.EventBuffer,
		Policy:         fanout.DropThenKick{Limit: uint64(cfg.EventBuffer)},
	})
	defer rt.Close()
	for _, id := range cfg.Realms {
		_ = rt.JoinRealm(domain.RealmID(id))
	}
	for _, id := range cfg.Channels {
		_ = rt.JoinChannel(domain.ChannelID(id))
	}

	devices, err := media.NewDevices()
	if err != nil {
		log.Fatal().Err(err).Msg("media devices")
	}
	peers, err := rtc.NewFactory(rtc.Config{
		STUNServers: cfg.Voice.STUNServers,
		Codecs:      devices.Populate,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}
	meter := media.NewMeter()

	vm := voice.NewManager(voice.Options{
		Self:     *self,
		Devices:  devices,
		Peers:    peers,
		Decoders: media.NewOpusDecoder,
		Sink:     meter,
		API:      api,
		Signal:   rt,
		Config: voice.Config{
			FFTSize:         cfg.Voice.FFTSize,
			LocalThreshold:  cfg.Voice.LocalThreshold,
			RemoteThreshold: cfg.Voice.RemoteThreshold,
			SampleInterval:  cfg.Voice.SampleInterval,
		},
	})
	go vm.Run(ctx)

	if err := rt.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("first connect failed, retrying in background")
	}

	r := router.SetupRouter(ctx, cfg, router.Services{
		Self:     *self,
		Realtime: rt,
		Voice:    vm,
		Backend:  api,
		Levels:   func() any { return meter.Levels() },
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.BridgePort)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Realm bridge started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	vm.Close(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Bridge exited gracefully")
}
