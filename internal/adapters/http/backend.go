package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Realm/internal/domain"
	"github.com/gin-gonic/gin"
)

// Backend is the REST surface the bridge forwards to. rest.Client implements it.
type Backend interface {
	Profile(ctx context.Context) (*domain.User, error)
	UpdateProfile(ctx context.Context, p domain.ProfileUpdate) (*domain.User, error)
	UpdateStatus(ctx context.Context, s domain.StatusUpdate) error
	SendFriendRequest(ctx context.Context, username string) error
	AcceptFriendRequest(ctx context.Context, requestID string) error
	Friends(ctx context.Context) ([]domain.Friend, error)
	FriendRequests(ctx context.Context) ([]domain.Friend, error)
	Notifications(ctx context.Context) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	UnreadCount(ctx context.Context) (int, error)

	CreateRealm(ctx context.Context, name, description string) (*domain.Realm, error)
	Realms(ctx context.Context) ([]domain.Realm, error)
	Realm(ctx context.Context, id domain.RealmID) (*domain.Realm, error)
	JoinRealm(ctx context.Context, inviteCode string) error
	LeaveRealm(ctx context.Context, id domain.RealmID) error
	CreateChannel(ctx context.Context, realm domain.RealmID, in domain.ChannelInput) (*domain.Channel, error)
	Channels(ctx context.Context, realm domain.RealmID) ([]domain.Channel, error)
	Channel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error)
	UpdateChannel(ctx context.Context, id domain.ChannelID, in domain.ChannelInput) error
	DeleteChannel(ctx context.Context, id domain.ChannelID) error
	CreateRole(ctx context.Context, realm domain.RealmID, in domain.RoleInput) (*domain.Role, error)
	Roles(ctx context.Context, realm domain.RealmID) ([]domain.Role, error)
	UpdateRole(ctx context.Context, id domain.RoleID, in domain.RoleInput) error
	DeleteRole(ctx context.Context, id domain.RoleID) error
	AssignRole(ctx context.Context, realm domain.RealmID, user domain.UserID, role domain.RoleID) error
	RemoveRole(ctx context.Context, user domain.UserID, role domain.RoleID) error
	Moderate(ctx context.Context, realm domain.RealmID, user domain.UserID, kind domain.ModerationKind, reason string, duration int) error
	ModerationLog(ctx context.Context, realm domain.RealmID) ([]domain.ModerationAction, error)

	Messages(ctx context.Context, channel domain.ChannelID, page domain.Page) ([]domain.Message, error)
	EditMessage(ctx context.Context, id domain.MessageID, content string) error
	DeleteMessage(ctx context.Context, id domain.MessageID) error
	AddReaction(ctx context.Context, id domain.MessageID, emoji string) error
	RemoveReaction(ctx context.Context, id domain.MessageID, emoji string) error
	SendDirectMessage(ctx context.Context, to domain.UserID, content string) (*domain.DirectMessage, error)
	Conversation(ctx context.Context, with domain.UserID, page domain.Page) ([]domain.DirectMessage, error)
	Conversations(ctx context.Context) ([]domain.Conversation, error)
	EditDirectMessage(ctx context.Context, id domain.MessageID, content string) error
	DeleteDirectMessage(ctx context.Context, id domain.MessageID) error

	VoiceUsers(ctx context.Context, channel domain.ChannelID) ([]domain.VoiceState, error)
}

type pageQuery struct {
	Limit  int `form:"limit" binding:"min=0,max=100"`
	Offset int `form:"offset" binding:"min=0"`
}

func (q pageQuery) page() domain.Page {
	if q.Limit == 0 {
		return domain.Page{Limit: domain.DefaultPage.Limit, Offset: q.Offset}
	}
	return domain.Page{Limit: q.Limit, Offset: q.Offset}
}

type realmRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type friendRequest struct {
	Username string `json:"username" binding:"required"`
}

type moderationRequest struct {
	UserID   domain.UserID         `json:"user_id" binding:"required"`
	Action   domain.ModerationKind `json:"action" binding:"required,oneof=kick ban timeout unban"`
	Reason   string                `json:"reason"`
	Duration int                   `json:"duration" binding:"min=0"`
}

type contentRequest struct {
	Content string `json:"content" binding:"required"`
}

// backend forwards bridge routes to the REST API one call each.
type backend struct {
	api Backend
}

// reply answers v, or the error mapped by fail.
func reply[T any](c *gin.Context, v T, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func noContent(c *gin.Context, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bind decodes the JSON body into req and answers 400 when it does not fit.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func bindPage(c *gin.Context) (domain.Page, bool) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return domain.Page{}, false
	}
	return q.page(), true
}

func registerBackend(api, vc *gin.RouterGroup, b Backend) {
	h := &backend{api: b}

	api.GET("/profile", h.profile)
	api.PATCH("/profile", h.updateProfile)
	api.PUT("/status", h.updateStatus)
	api.GET("/friends", h.friends)
	api.GET("/friends/requests", h.friendRequests)
	api.POST("/friends/requests", h.sendFriendRequest)
	api.POST("/friends/requests/:id/accept", h.acceptFriendRequest)
	api.GET("/notifications", h.notifications)
	api.GET("/notifications/unread", h.unreadCount)
	api.POST("/notifications/read", h.markAllRead)
	api.POST("/notifications/:id/read", h.markRead)

	api.GET("/realms", h.realms)
	api.POST("/realms", h.createRealm)
	api.GET("/realms/:id", h.realm)
	api.POST("/realms/:id/leave", h.leaveRealm)
	api.POST("/invites/:code", h.joinRealm)
	api.GET("/realms/:id/channels", h.channels)
	api.POST("/realms/:id/channels", h.createChannel)
	api.GET("/realms/:id/roles", h.roles)
	api.POST("/realms/:id/roles", h.createRole)
	api.PUT("/realms/:id/members/:user/roles/:role", h.assignRole)
	api.DELETE("/realms/:id/members/:user/roles/:role", h.removeRole)
	api.GET("/realms/:id/moderation", h.moderationLog)
	api.POST("/realms/:id/moderation", h.moderate)
	api.PATCH("/roles/:id", h.updateRole)
	api.DELETE("/roles/:id", h.deleteRole)

	api.GET("/channels/:id", h.channel)
	api.PATCH("/channels/:id", h.updateChannel)
	api.DELETE("/channels/:id", h.deleteChannel)
	api.GET("/channels/:id/messages", h.messages)
	api.PATCH("/messages/:id", h.editMessage)
	api.DELETE("/messages/:id", h.deleteMessage)
	api.PUT("/messages/:id/reactions/:emoji", h.addReaction)
	api.DELETE("/messages/:id/reactions/:emoji", h.removeReaction)

	api.GET("/conversations", h.conversations)
	api.GET("/conversations/:user", h.conversation)
	api.POST("/conversations/:user", h.sendDirectMessage)
	api.PATCH("/dms/:id", h.editDirectMessage)
	api.DELETE("/dms/:id", h.deleteDirectMessage)

	vc.GET("/:channel/users", h.voiceUsers)
}

func (h *backend) profile(c *gin.Context) {
	u, err := h.api.Profile(c.Request.Context())
	reply(c, u, err)
}

func (h *backend) updateProfile(c *gin.Context) {
	var req domain.ProfileUpdate
	if !bind(c, &req) {
		return
	}
	u, err := h.api.UpdateProfile(c.Request.Context(), req)
	reply(c, u, err)
}

func (h *backend) updateStatus(c *gin.Context) {
	var req domain.StatusUpdate
	if !bind(c, &req) {
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid status"})
		return
	}
	noContent(c, h.api.UpdateStatus(c.Request.Context(), req))
}

func (h *backend) friends(c *gin.Context) {
	out, err := h.api.Friends(c.Request.Context())
	reply(c, out, err)
}

func (h *backend) friendRequests(c *gin.Context) {
	out, err := h.api.FriendRequests(c.Request.Context())
	reply(c, out, err)
}

func (h *backend) sendFriendRequest(c *gin.Context) {
	var req friendRequest
	if !bind(c, &req) {
		return
	}
	noContent(c, h.api.SendFriendRequest(c.Request.Context(), req.Username))
}

func (h *backend) acceptFriendRequest(c *gin.Context) {
	noContent(c, h.api.AcceptFriendRequest(c.Request.Context(), c.Param("id")))
}

func (h *backend) notifications(c *gin.Context) {
	out, err := h.api.Notifications(c.Request.Context())
	reply(c, out, err)
}

func (h *backend) unreadCount(c *gin.Context) {
	n, err := h.api.UnreadCount(c.Request.Context())
	reply(c, gin.H{"count": n}, err)
}

func (h *backend) markRead(c *gin.Context) {
	noContent(c, h.api.MarkNotificationRead(c.Request.Context(), c.Param("id")))
}

func (h *backend) markAllRead(c *gin.Context) {
	noContent(c, h.api.MarkAllNotificationsRead(c.Request.Context()))
}

func (h *backend) realms(c *gin.Context) {
	out, err := h.api.Realms(c.Request.Context())
	reply(c, out, err)
}

func (h *backend) createRealm(c *gin.Context) {
	var req realmRequest
	if !bind(c, &req) {
		return
	}
	r, err := h.api.CreateRealm(c.Request.Context(), req.Name, req.Description)
	reply(c, r, err)
}

func (h *backend) realm(c *gin.Context) {
	r, err := h.api.Realm(c.Request.Context(), domain.RealmID(c.Param("id")))
	reply(c, r, err)
}

func (h *backend) joinRealm(c *gin.Context) {
	noContent(c, h.api.JoinRealm(c.Request.Context(), c.Param("code")))
}

func (h *backend) leaveRealm(c *gin.Context) {
	noContent(c, h.api.LeaveRealm(c.Request.Context(), domain.RealmID(c.Param("id"))))
}

func (h *backend) channels(c *gin.Context) {
	out, err := h.api.Channels(c.Request.Context(), domain.RealmID(c.Param("id")))
	reply(c, out, err)
}

func (h *backend) createChannel(c *gin.Context) {
	var req domain.ChannelInput
	if !bind(c, &req) {
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing channel name"})
		return
	}
	ch, err := h.api.CreateChannel(c.Request.Context(), domain.RealmID(c.Param("id")), req)
	reply(c, ch, err)
}

func (h *backend) channel(c *gin.Context) {
	ch, err := h.api.Channel(c.Request.Context(), domain.ChannelID(c.Param("id")))
	reply(c, ch, err)
}

func (h *backend) updateChannel(c *gin.Context) {
	var req domain.ChannelInput
	if !bind(c, &req) {
		return
	}
	noContent(c, h.api.UpdateChannel(c.Request.Context(), domain.ChannelID(c.Param("id")), req))
}

func (h *backend) deleteChannel(c *gin.Context) {
	noContent(c, h.api.DeleteChannel(c.Request.Context(), domain.ChannelID(c.Param("id"))))
}

func (h *backend) roles(c *gin.Context) {
	out, err := h.api.Roles(c.Request.Context(), domain.RealmID(c.Param("id")))
	reply(c, out, err)
}

func (h *backend) createRole(c *gin.Context) {
	var req domain.RoleInput
	if !bind(c, &req) {
		return
	}
	r, err := h.api.CreateRole(c.Request.Context(), domain.RealmID(c.Param("id")), req)
	reply(c, r, err)
}

func (h *backend) updateRole(c *gin.Context) {
	var req domain.RoleInput
	if !bind(c, &req) {
		return
	}
	noContent(c, h.api.UpdateRole(c.Request.Context(), domain.RoleID(c.Param("id")), req))
}

func (h *backend) deleteRole(c *gin.Context) {
	noContent(c, h.api.DeleteRole(c.Request.Context(), domain.RoleID(c.Param("id"))))
}

func (h *backend) assignRole(c *gin.Context) {
	noContent(c, h.api.AssignRole(c.Request.Context(),
		domain.RealmID(c.Param("id")), domain.UserID(c.Param("user")), domain.RoleID(c.Param("role"))))
}

func (h *backend) removeRole(c *gin.Context) {
	noContent(c, h.api.RemoveRole(c.Request.Context(), domain.UserID(c.Param("user")), domain.RoleID(c.Param("role"))))
}

func (h *backend) moderate(c *gin.Context) {
	var req moderationRequest
	if !bind(c, &req) {
		return
	}
	noContent(c, h.api.Moderate(c.Request.Context(),
		domain.RealmID(c.Param("id")), req.UserID, req.Action, req.Reason, req.Duration))
}

func (h *backend) moderationLog(c *gin.Context) {
	out, err := h.api.ModerationLog(c.Request.Context(), domain.RealmID(c.Param("id")))
	reply(c, out, err)
}

func (h *backend) messages(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	out, err := h.api.Messages(c.Request.Context(), domain.ChannelID(c.Param("id")), page)
	reply(c, out, err)
}

func (h *backend) editMessage(c *gin.Context) {
	var req contentRequest
	if !bind(c, &req) {
		return
	}
	noContent(c, h.api.EditMessage(c.Request.Context(), domain.MessageID(c.Param("id")), req.Content))
}

func (h *backend) deleteMessage(c *gin.Context) {
	noContent(c, h.api.DeleteMessage(c.Request.Context(), domain.MessageID(c.Param("id"))))
}

func (h *backend) addReaction(c *gin.Context) {
	noContent(c, h.api.AddReaction(c.Request.Context(), domain.MessageID(c.Param("id")), c.Param("emoji")))
}

func (h *backend) removeReaction(c *gin.Context) {
	noContent(c, h.api.RemoveReaction(c.Request.Context(), domain.MessageID(c.Param("id")), c.Param("emoji")))
}

func (h *backend) conversations(c *gin.Context) {
	out, err := h.api.Conversations(c.Request.Context())
	reply(c, out, err)
}

func (h *backend) conversation(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	out, err := h.api.Conversation(c.Request.Context(), domain.UserID(c.Param("user")), page)
	reply(c, out, err)
}

func (h *backend) sendDirectMessage(c *gin.Context) {
	var req contentRequest
	if !bind(c, &req) {
		return
	}
	dm, err := h.api.SendDirectMessage(c.Request.Context(), domain.UserID(c.Param("user")), req.Content)
	reply(c, dm, err)
}

func (h *backend) editDirectMessage(c *gin.Context) {
	var req contentRequest
	if !bind(c, &req) {
		return
	}
	noContent(c, h.api.EditDirectMessage(c.Request.Context(), domain.MessageID(c.Param("id")), req.Content))
}

func (h *backend) deleteDirectMessage(c *gin.Context) {
	noContent(c, h.api.DeleteDirectMessage(c.Request.Context(), domain.MessageID(c.Param("id"))))
}

func (h *backend) voiceUsers(c *gin.Context) {
	out, err := h.api.VoiceUsers(c.Request.Context(), domain.ChannelID(c.Param("channel")))
	reply(c, out, err)
}
