package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/membership"
	"github.com/weiawesome/wes-io-chat/internal/service"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
	"github.com/weiawesome/wes-io-chat/pkg/response"
)

// Handler serves the REST surface.
type Handler struct {
	messages       service.MessageService
	groups         service.GroupService
	users          service.UserService
	online         func() []string
	authMiddleware *middleware.AuthMiddleware
	apiLimit       gin.HandlerFunc
}

// NewHandler creates the REST handler. online returns the users routed on
// this instance; apiLimit may be nil.
func NewHandler(
	messages service.MessageService,
	groups service.GroupService,
	users service.UserService,
	online func() []string,
	authMiddleware *middleware.AuthMiddleware,
	apiLimit gin.HandlerFunc,
) *Handler {
	if apiLimit == nil {
		apiLimit = func(c *gin.Context) { c.Next() }
	}
	return &Handler{
		messages:       messages,
		groups:         groups,
		users:          users,
		online:         online,
		authMiddleware: authMiddleware,
		apiLimit:       apiLimit,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1", h.apiLimit, h.authMiddleware.RequireAuth())
	{
		users := api.Group("/users")
		{
			users.GET("", h.ListUsers)
			users.GET("/me", h.GetMe)
			users.GET("/blocked", h.ListBlocked)
			users.GET("/blocked/:id", h.IsBlocked)
			users.POST("/block", h.BlockUser)
			users.POST("/unblock", h.UnblockUser)
			users.PUT("/privacy", h.UpdatePrivacy)
		}

		messages := api.Group("/messages")
		{
			messages.GET("/:userId", h.GetConversation)
			messages.GET("/:userId/search", h.SearchConversation)
			messages.POST("/:userId", h.SendMessage)
		}

		groups := api.Group("/groups")
		{
			groups.POST("", h.CreateGroup)
			groups.GET("", h.ListGroups)
			groups.POST("/:id/members", h.AddMember)
			groups.DELETE("/:id/members/:userId", h.RemoveMember)
			groups.POST("/:id/leave", h.LeaveGroup)
			groups.GET("/:id/messages", h.GetGroupMessages)
			groups.GET("/:id/messages/search", h.SearchGroupMessages)
			groups.POST("/:id/messages", h.SendGroupMessage)
		}

		api.GET("/presence", h.Presence)
	}
}

type pageQuery struct {
	Limit int    `form:"limit"`
	Skip  int    `form:"skip"`
	Query string `form:"q"`
}

func (q pageQuery) page() domain.Page {
	return domain.Page{Limit: q.Limit, Skip: q.Skip}.Normalize()
}

type targetRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// writeError maps a service error onto the response envelope. Internal
// errors are logged and their detail withheld from the client.
func writeError(c *gin.Context, err error, op string) {
	code := domain.ErrorCode(err)
	if code == domain.ErrCodeInternalError {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str("op", op).Msg("request failed")
		response.InternalError(c, "failed to "+op)
		return
	}
	response.Fail(c, code, err.Error())
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Presence(c *gin.Context) {
	response.Success(c, gin.H{"users": h.online()})
}

// ListUsers returns every other user for the sidebar.
func (h *Handler) ListUsers(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	users, err := h.users.ListUsers(c.Request.Context(), middleware.GetUserID(c), q.page())
	if err != nil {
		writeError(c, err, "list users")
		return
	}
	response.Success(c, users)
}

func (h *Handler) GetMe(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "get user")
		return
	}
	response.Success(c, user)
}

func (h *Handler) ListBlocked(c *gin.Context) {
	users, err := h.users.ListBlocked(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "list blocked users")
		return
	}
	response.Success(c, users)
}

func (h *Handler) IsBlocked(c *gin.Context) {
	blocked, err := h.users.IsBlocked(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err, "check block")
		return
	}
	response.Success(c, gin.H{"isBlocked": blocked})
}

func (h *Handler) BlockUser(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.users.BlockUser(c.Request.Context(), middleware.GetUserID(c), req.UserID); err != nil {
		writeError(c, err, "block user")
		return
	}
	response.Success(c, gin.H{"message": "user blocked"})
}

func (h *Handler) UnblockUser(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.users.UnblockUser(c.Request.Context(), middleware.GetUserID(c), req.UserID); err != nil {
		writeError(c, err, "unblock user")
		return
	}
	response.Success(c, gin.H{"message": "user unblocked"})
}

func (h *Handler) UpdatePrivacy(c *gin.Context) {
	var req domain.PrivacySettings
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, err := h.users.UpdatePrivacy(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		writeError(c, err, "update privacy settings")
		return
	}
	response.Success(c, gin.H{
		"showOnlineStatus": user.ShowOnlineStatus,
		"allowMessaging":   user.AllowMessaging,
	})
}

func (h *Handler) GetConversation(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	msgs, err := h.messages.GetConversation(c.Request.Context(), middleware.GetUserID(c), c.Param("userId"), q.page())
	if err != nil {
		writeError(c, err, "get messages")
		return
	}
	response.Success(c, msgs)
}

func (h *Handler) SearchConversation(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	msgs, err := h.messages.SearchConversation(c.Request.Context(), middleware.GetUserID(c), c.Param("userId"), q.Query, q.page())
	if err != nil {
		writeError(c, err, "search messages")
		return
	}
	response.Success(c, msgs)
}

func (h *Handler) SendMessage(c *gin.Context) {
	var content domain.Content
	if err := c.ShouldBindJSON(&content); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sent, err := h.messages.SendDirectMessage(c.Request.Context(), middleware.GetUserID(c), domain.SendMessageRequest{
		ReceiverID: c.Param("userId"),
		Content:    content,
	})
	if err != nil {
		writeError(c, err, "send message")
		return
	}
	response.Created(c, sent)
}

func (h *Handler) CreateGroup(c *gin.Context) {
	var req membership.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	group, err := h.groups.CreateGroup(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		writeError(c, err, "create group")
		return
	}
	response.Created(c, group)
}

func (h *Handler) ListGroups(c *gin.Context) {
	groups, err := h.groups.ListUserGroups(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "list groups")
		return
	}
	response.Success(c, groups)
}

func (h *Handler) AddMember(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	group, err := h.groups.AddMember(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), req.UserID)
	if err != nil {
		writeError(c, err, "add member")
		return
	}
	response.Success(c, group)
}

func (h *Handler) RemoveMember(c *gin.Context) {
	group, err := h.groups.RemoveMember(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), c.Param("userId"))
	if err != nil {
		writeError(c, err, "remove member")
		return
	}
	response.Success(c, group)
}

func (h *Handler) LeaveGroup(c *gin.Context) {
	res, err := h.groups.LeaveGroup(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "leave group")
		return
	}
	response.Success(c, res)
}

func (h *Handler) GetGroupMessages(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	msgs, err := h.messages.GetGroupMessages(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), q.page())
	if err != nil {
		writeError(c, err, "get group messages")
		return
	}
	response.Success(c, msgs)
}

func (h *Handler) SearchGroupMessages(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	msgs, err := h.messages.SearchGroupMessages(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), q.Query, q.page())
	if err != nil {
		writeError(c, err, "search group messages")
		return
	}
	response.Success(c, msgs)
}

func (h *Handler) SendGroupMessage(c *gin.Context) {
	var content domain.Content
	if err := c.ShouldBindJSON(&content); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sent, err := h.messages.SendGroupMessage(c.Request.Context(), middleware.GetUserID(c), domain.SendGroupMessageRequest{
		GroupID: c.Param("id"),
		Content: content,
	})
	if err != nil {
		writeError(c, err, "send group message")
		return
	}
	response.Created(c, sent)
}
