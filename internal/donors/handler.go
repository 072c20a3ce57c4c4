package donors

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bloodhero/donation-portal/donation-portal-backend/internal/auth"
)

// Handler handles HTTP requests for donor-side views.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new donor handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers donor routes.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	donors := router.Group("/donors")
	{
		donors.GET("/me", h.getProfile)
		donors.GET("/me/accepted-requests", h.getAcceptedRequests)
	}
}

// getProfile handles GET /api/v1/donors/me
func (h *Handler) getProfile(c *gin.Context) {
	donor, err := h.service.GetProfile(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, donor)
}

// getAcceptedRequests handles GET /api/v1/donors/me/accepted-requests
func (h *Handler) getAcceptedRequests(c *gin.Context) {
	views, err := h.service.GetAcceptedRequests(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"accepted_requests": views, "count": len(views)})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	if errors.Is(err, ErrDonorProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error("donor request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
