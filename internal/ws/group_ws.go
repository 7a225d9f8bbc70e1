package ws

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// GroupWebSocketHandler handles group websocket connections.
type GroupWebSocketHandler struct {
	hub       *Hub
	groupRepo repositories.GroupRepository
	jwtSecret string
	jwtIssuer string
}

// NewGroupWebSocketHandler constructs a GroupWebSocketHandler.
func NewGroupWebSocketHandler(hub *Hub, groupRepo repositories.GroupRepository, jwtSecret, jwtIssuer string) *GroupWebSocketHandler {
	return &GroupWebSocketHandler{hub: hub, groupRepo: groupRepo, jwtSecret: jwtSecret, jwtIssuer: jwtIssuer}
}

// Handle upgrades and registers a websocket connection for a group room.
// Membership is checked before the upgrade; non-members get the same answer
// as callers of a nonexistent group.
func (h *GroupWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	groupID, err := strconv.Atoi(c.Param("group_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.groupRepo.IsMember(ctx, groupID, userID)
	if err != nil || !member {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := NewConnInfo(c.Request, userID, trace.SpanContextFromContext(ctx).TraceID().String())
	h.hub.AddClient(groupID, conn, info)
	observability.IncWSActive()
	observability.IncWSEvent("ws_open")

	go func() {
		defer func() {
			h.hub.RemoveClient(groupID, conn)
			conn.Close()
			observability.DecWSActive()
			observability.IncWSEvent("ws_close")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *GroupWebSocketHandler) validateToken(header string) (int, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return 0, errInvalidToken
	}
	claims, err := middleware.VerifyToken(parts[1], h.jwtSecret, h.jwtIssuer)
	if err != nil {
		return 0, err
	}
	return int(claims.UserID), nil
}
