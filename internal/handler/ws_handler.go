package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-chat/internal/audit"
	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/service"
	"github.com/weiawesome/wes-io-chat/pkg/jwt"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
	"github.com/weiawesome/wes-io-chat/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler authenticates the handshake, then hands the connection to the
// chat service for its whole lifetime.
type WSHandler struct {
	hub    *hub.Hub
	chat   service.ChatService
	users  service.UserService
	tokens *jwt.Manager
	wsCfg  config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, chat service.ChatService, users service.UserService, tokens *jwt.Manager, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:    h,
		chat:   chat,
		users:  users,
		tokens: tokens,
		wsCfg:  wsCfg,
	}
}

// tokenFrom reads the token from the query string, falling back to a
// bearer header for non-browser clients.
func tokenFrom(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return strings.TrimPrefix(r.Header.Get(middleware.AuthHeaderKey), middleware.BearerPrefix)
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	claims, err := h.tokens.ValidateToken(tokenFrom(c.Request))
	if err != nil {
		audit.LogWithDetail(ctx, audit.ActionConnectFailed, "", "", err.Error(), "websocket handshake rejected")
		response.Unauthorized(c, err.Error())
		return
	}

	user, err := h.users.EnsureUser(ctx, claims.UserID, claims.Username, claims.FullName)
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, claims.UserID).Msg("failed to resolve user")
		response.InternalError(c, "failed to resolve user")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.NewString(), user.ID, user.Username, h.hub, conn, h.wsCfg)

	// The request context ends with the handler; the connection outlives it.
	connCtx := log.WithConnection(context.WithoutCancel(ctx), client.ID, client.UserID)
	h.chat.HandleConnect(connCtx, client)

	go client.WritePump()
	go func() {
		client.ReadPump(func(cl *hub.Client, message []byte) {
			h.chat.HandleEvent(connCtx, cl, message)
		})
		h.chat.HandleDisconnect(connCtx, client)
	}()
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/chat/ws", h.HandleWebSocket)
}
