package notifications

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bloodhero/donation-portal/donation-portal-backend/internal/auth"
)

// SocketSubscriber upgrades a request into a live notification socket.
// Satisfied by the websocket manager.
type SocketSubscriber interface {
	HandleConnection(w http.ResponseWriter, r *http.Request, userID string) error
}

// Handler exposes the user-facing notification endpoints: delivery history
// and the live WebSocket subscription.
type Handler struct {
	repo    *Repository
	sockets SocketSubscriber
	logger  *zap.Logger
}

// NewHandler creates a new notifications handler.
func NewHandler(repo *Repository, sockets SocketSubscriber, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, sockets: sockets, logger: logger}
}

// RegisterRoutes registers notification routes.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	notifications := router.Group("/notifications")
	{
		notifications.GET("", h.listNotifications)
		notifications.GET("/ws", h.subscribe)
	}
}

// listNotifications handles GET /api/v1/notifications
func (h *Handler) listNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	logs, err := h.repo.ListForUser(c.Request.Context(), auth.UserID(c), limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": logs, "count": len(logs)})
}

// subscribe handles GET /api/v1/notifications/ws
func (h *Handler) subscribe(c *gin.Context) {
	if err := h.sockets.HandleConnection(c.Writer, c.Request, auth.UserID(c)); err != nil {
		h.logger.Error("failed to open websocket", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open websocket"})
	}
}
