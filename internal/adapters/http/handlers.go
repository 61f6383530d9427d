package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Realm/internal/adapters/ws"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/dkeye/Realm/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type handlers struct {
	ctx      context.Context
	svc      Services
	ws       ws.Options
	upgrader websocket.Upgrader
	buffer   int
}

type messageRequest struct {
	Content string `json:"content"`
}

type typingRequest struct {
	Typing *bool `json:"typing"`
}

type presenceRequest struct {
	Status   domain.Status `json:"status"`
	Activity string        `json:"activity"`
}

type pttRequest struct {
	Enabled *bool `json:"enabled"`
	Pressed *bool `json:"pressed"`
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

// fail writes err with a status derived from its Kind.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var e *domain.Error
	switch domain.KindOf(err) {
	case domain.KindInvalid:
		status = http.StatusBadRequest
	case domain.KindPermissionDenied:
		status = http.StatusForbidden
	case domain.KindNotConnected:
		status = http.StatusServiceUnavailable
	case domain.KindTimeout:
		status = http.StatusGatewayTimeout
	case domain.KindNetwork, domain.KindServerRejected:
		status = http.StatusBadGateway
	}
	body := gin.H{"error": err.Error(), "kind": domain.KindOf(err).String()}
	if errors.As(err, &e) && e.Status != 0 {
		body["status"] = e.Status
		// Backend client errors such as 404 or 409 pass through unchanged.
		if e.Kind == domain.KindServerRejected && e.Status >= 400 && e.Status < 500 {
			status = e.Status
		}
	}
	c.JSON(status, body)
}

// csrfToken hands the tab its session token for TokenHeader.
func (h *handlers) csrfToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"token": c.GetString("client_token")})
}

func (h *handlers) state(c *gin.Context) {
	subs := h.svc.Realtime.Subscriptions()
	body := gin.H{
		"self": h.svc.Self,
		"connection": gin.H{
			"state":   h.svc.Realtime.State(),
			"attempt": h.svc.Realtime.Attempt(),
		},
		"subscriptions": gin.H{
			"realms":   subs.Realms(),
			"channels": subs.Channels(),
		},
		"voice": h.svc.Voice.Snapshot(),
	}
	if h.svc.Levels != nil {
		body["levels"] = h.svc.Levels()
	}
	c.JSON(http.StatusOK, body)
}

// reconnect starts a fresh connection cycle, typically after Offline.
func (h *handlers) reconnect(c *gin.Context) {
	if err := h.svc.Realtime.Connect(h.ctx); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.svc.Realtime.State()})
}

func (h *handlers) presence(c *gin.Context) {
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid status"})
		return
	}
	if err := h.svc.Realtime.UpdatePresence(req.Status, req.Activity); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) subscribeRealm(c *gin.Context) {
	h.done(c, h.svc.Realtime.JoinRealm(domain.RealmID(c.Param("id"))))
}

func (h *handlers) unsubscribeRealm(c *gin.Context) {
	h.done(c, h.svc.Realtime.LeaveRealm(domain.RealmID(c.Param("id"))))
}

func (h *handlers) subscribeChannel(c *gin.Context) {
	h.done(c, h.svc.Realtime.JoinChannel(domain.ChannelID(c.Param("id"))))
}

func (h *handlers) unsubscribeChannel(c *gin.Context) {
	h.done(c, h.svc.Realtime.LeaveChannel(domain.ChannelID(c.Param("id"))))
}

// done answers a subscription change. A closed socket is not a failure
// here: the subscription is remembered and replayed on the next open.
func (h *handlers) done(c *gin.Context, err error) {
	if err != nil && domain.KindOf(err) != domain.KindNotConnected {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"realms":   h.svc.Realtime.Subscriptions().Realms(),
		"channels": h.svc.Realtime.Subscriptions().Channels(),
		"queued":   h.svc.Realtime.State() != protocol.StateOpen,
	})
}

func (h *handlers) sendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid content"})
		return
	}
	if err := h.svc.Realtime.SendMessage(domain.ChannelID(c.Param("id")), req.Content); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handlers) typing(c *gin.Context) {
	var req typingRequest
	_ = c.ShouldBindJSON(&req)
	channel := domain.ChannelID(c.Param("id"))
	var err error
	if req.Typing != nil && !*req.Typing {
		err = h.svc.Realtime.StopTyping(channel)
	} else {
		err = h.svc.Realtime.StartTyping(channel)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) joinVoice(c *gin.Context) {
	if err := h.svc.Voice.Join(c.Request.Context(), domain.ChannelID(c.Param("channel"))); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Voice.Snapshot())
}

func (h *handlers) leaveVoice(c *gin.Context) {
	if err := h.svc.Voice.LeaveAll(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Voice.Snapshot())
}

func (h *handlers) toggleMute(c *gin.Context) {
	muted, err := h.svc.Voice.ToggleMute(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": muted})
}

func (h *handlers) toggleDeafen(c *gin.Context) {
	deafened, err := h.svc.Voice.ToggleDeafen(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deafened": deafened})
}

func (h *handlers) pushToTalk(c *gin.Context) {
	var req pttRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Enabled == nil && req.Pressed == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected enabled or pressed"})
		return
	}
	if req.Enabled != nil {
		h.svc.Voice.SetPushToTalk(*req.Enabled)
	}
	if req.Pressed != nil {
		h.svc.Voice.PushToTalk(*req.Pressed)
	}
	c.JSON(http.StatusOK, h.svc.Voice.Snapshot())
}

func (h *handlers) setVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid volume"})
		return
	}
	h.svc.Voice.SetVolume(domain.UserID(c.Param("user")), req.Volume)
	c.Status(http.StatusNoContent)
}

func (h *handlers) startScreenShare(c *gin.Context) {
	if err := h.svc.Voice.StartScreenShare(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Voice.Snapshot())
}

func (h *handlers) stopScreenShare(c *gin.Context) {
	if err := h.svc.Voice.StopScreenShare(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Voice.Snapshot())
}
