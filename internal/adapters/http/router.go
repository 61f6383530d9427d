// Package http is the local bridge a UI talks to: a small JSON API over the
// realtime client and voice manager plus a WebSocket event stream.
package http

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/dkeye/Realm/internal/adapters/ws"
	"github.com/dkeye/Realm/internal/app/fanout"
	"github.com/dkeye/Realm/internal/app/realtime"
	"github.com/dkeye/Realm/internal/app/voice"
	"github.com/dkeye/Realm/internal/config"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/dkeye/Realm/internal/protocol"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sessionName = "RealmSessions"
	sessionTab  = "tab"
	sessionCSRF = "csrf"

	// TokenHeader carries the session's token on every mutating request.
	TokenHeader = "X-Realm-Token"
	// tokenQuery carries it on the event stream, where browsers cannot set headers.
	tokenQuery = "token"
)

// Realtime is the part of realtime.Client the bridge drives.
type Realtime interface {
	State() protocol.ConnState
	Attempt() int
	Subscriptions() *realtime.Registry
	Subscribe(opts ...fanout.Option[protocol.Event]) *fanout.Subscription[protocol.Event]
	Connect(ctx context.Context) error
	JoinRealm(id domain.RealmID) error
	LeaveRealm(id domain.RealmID) error
	JoinChannel(id domain.ChannelID) error
	LeaveChannel(id domain.ChannelID) error
	SendMessage(channel domain.ChannelID, content string) error
	StartTyping(channel domain.ChannelID) error
	StopTyping(channel domain.ChannelID) error
	UpdatePresence(status domain.Status, activity string) error
}

// Voice is the part of voice.Manager the bridge drives.
type Voice interface {
	Snapshot() voice.Snapshot
	Subscribe(opts ...fanout.Option[voice.Snapshot]) *fanout.Subscription[voice.Snapshot]
	Join(ctx context.Context, channel domain.ChannelID) error
	LeaveAll(ctx context.Context) error
	ToggleMute(ctx context.Context) (bool, error)
	ToggleDeafen(ctx context.Context) (bool, error)
	SetPushToTalk(enabled bool)
	PushToTalk(pressed bool)
	SetVolume(user domain.UserID, volume float64)
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error
}

type Services struct {
	Self     domain.User
	Realtime Realtime
	Voice    Voice
	// Backend serves the REST passthrough routes. Optional.
	Backend Backend
	// Levels reports the latest remote audio level per user. Optional.
	Levels func() any
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser tab a session holding a tab id
// and the token it must echo back in TokenHeader.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		tab, _ := s.Get(sessionTab).(string)
		token, _ := s.Get(sessionCSRF).(string)
		if tab == "" || token == "" {
			tab, token = genClientToken(), genClientToken()
			s.Set(sessionTab, tab)
			s.Set(sessionCSRF, token)
			if err := s.Save(); err != nil {
				log.Error().Str("module", "adapters.http").Err(err).Msg("save session")
			}
		}
		c.Set("client_id", tab)
		c.Set("client_token", token)
		c.Next()
	}
}

// OriginMiddleware rejects requests addressed to a non-loopback host or sent
// by a page whose origin is neither the bridge nor one of allowed. Allowed
// foreign origins get CORS headers and preflight answers.
func OriginMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !loopbackHost(c.Request.Host) || !originAllowed(c.Request, allowed) {
			log.Warn().Str("module", "adapters.http").
				Str("host", c.Request.Host).
				Str("origin", c.GetHeader("Origin")).
				Str("path", c.Request.URL.Path).
				Msg("foreign request rejected")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+TokenHeader)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func loopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// originAllowed accepts requests without an Origin (non-browser callers),
// from the bridge's own host, or from one of allowed.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return slices.Contains(allowed, origin)
}

// RequireToken rejects mutating requests whose TokenHeader does not match the
// session token. Safe methods pass.
func RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		checkToken(c, c.GetHeader(TokenHeader))
	}
}

// requireStreamToken is RequireToken for the event stream.
func requireStreamToken(c *gin.Context) {
	got := c.GetHeader(TokenHeader)
	if got == "" {
		got = c.Query(tokenQuery)
	}
	checkToken(c, got)
}

func checkToken(c *gin.Context, got string) {
	want := c.GetString("client_token")
	if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing or invalid " + TokenHeader})
		return
	}
	c.Next()
}

func SetupRouter(ctx context.Context, cfg *config.Config, svc Services) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(OriginMiddleware(cfg.BridgeOrigins))

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   3600 * 24 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	allowed := cfg.BridgeOrigins
	h := &handlers{
		ctx: ctx,
		svc: svc,
		ws: ws.Options{
			WriteTimeout: cfg.WriteTimeout,
			PingPeriod:   cfg.PingPeriod,
			ReadLimit:    cfg.ReadLimit,
			SendBuffer:   cfg.EventBuffer,
		},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return originAllowed(r, allowed) },
		},
		buffer: cfg.EventBuffer,
	}

	api := r.Group("/api", RequireToken())
	api.GET("/csrf-token", h.csrfToken)
	api.GET("/state", h.state)
	api.POST("/reconnect", h.reconnect)
	api.POST("/presence", h.presence)

	api.POST("/realms/:id/subscribe", h.subscribeRealm)
	api.POST("/realms/:id/unsubscribe", h.unsubscribeRealm)
	api.POST("/channels/:id/subscribe", h.subscribeChannel)
	api.POST("/channels/:id/unsubscribe", h.unsubscribeChannel)
	api.POST("/channels/:id/messages", h.sendMessage)
	api.POST("/channels/:id/typing", h.typing)

	vc := api.Group("/voice")
	vc.POST("/:channel/join", h.joinVoice)
	vc.POST("/leave", h.leaveVoice)
	vc.POST("/mute", h.toggleMute)
	vc.POST("/deafen", h.toggleDeafen)
	vc.POST("/ptt", h.pushToTalk)
	vc.PUT("/volume/:user", h.setVolume)
	vc.POST("/screenshare/start", h.startScreenShare)
	vc.POST("/screenshare/stop", h.stopScreenShare)

	if svc.Backend != nil {
		registerBackend(api, vc, svc.Backend)
	}

	api.GET("/events", requireStreamToken, h.events)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Strs("origins", allowed).Msg("router setup")
	return r
}
