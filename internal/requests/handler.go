package requests

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bloodhero/donation-portal/donation-portal-backend/internal/auth"
	"bloodhero/donation-portal/donation-portal-backend/internal/matching"
	"bloodhero/donation-portal/donation-portal-backend/pkg/storage"
)

// Handler handles HTTP requests for the blood-request lifecycle.
type Handler struct {
	service *Service
	storage storage.Client
	bucket  string
	logger  *zap.Logger
}

// NewHandler creates a new blood-request handler.
func NewHandler(service *Service, store storage.Client, bucket string, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		storage: store,
		bucket:  bucket,
		logger:  logger,
	}
}

// RegisterRoutes registers blood-request routes.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	reqs := router.Group("/blood-requests")
	{
		reqs.POST("", h.createRequest)
		reqs.GET("/my", h.getMyRequests)
		reqs.GET("/history", h.getRequestHistory)
		reqs.GET("/nearby", h.findNearbyRequests)
		reqs.GET("/:id", h.getRequest)
		reqs.PUT("/:id", h.updateRequest)
		reqs.DELETE("/:id", h.deleteRequest)
		reqs.POST("/:id/cancel", h.cancelRequest)
		reqs.POST("/:id/accept", h.acceptRequest)
		reqs.POST("/:id/donation-proof", h.submitDonationProof)
		reqs.PUT("/:id/donors/:donorId/status", h.updateDonationStatus)
	}
}

// createRequest handles POST /api/v1/blood-requests
func (h *Handler) createRequest(c *gin.Context) {
	var in CreateRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.service.CreateRequest(c.Request.Context(), auth.UserID(c), in)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, req)
}

// getMyRequests handles GET /api/v1/blood-requests/my
func (h *Handler) getMyRequests(c *gin.Context) {
	views, err := h.service.GetMyRequests(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": views, "count": len(views)})
}

// getRequestHistory handles GET /api/v1/blood-requests/history
func (h *Handler) getRequestHistory(c *gin.Context) {
	entries, summary, err := h.service.GetRequestHistory(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": entries, "summary": summary})
}

// findNearbyRequests handles GET /api/v1/blood-requests/nearby
func (h *Handler) findNearbyRequests(c *gin.Context) {
	filter := NearbyFilter{
		BloodType: matching.BloodType(c.Query("blood_type")),
		Urgency:   Urgency(c.Query("urgency")),
	}
	if filter.BloodType != "" && !filter.BloodType.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown blood type"})
		return
	}
	if raw := c.Query("date"); raw != "" {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		filter.Date = &date
	}
	if raw := c.Query("lat"); raw != "" {
		lat, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed latitude"})
			return
		}
		filter.Lat = &lat
	}
	if raw := c.Query("lng"); raw != "" {
		lng, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed longitude"})
			return
		}
		filter.Lng = &lng
	}

	nearby, err := h.service.FindNearbyRequests(c.Request.Context(), auth.UserID(c), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": nearby, "count": len(nearby)})
}

// getRequest handles GET /api/v1/blood-requests/:id
func (h *Handler) getRequest(c *gin.Context) {
	view, err := h.service.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// updateRequest handles PUT /api/v1/blood-requests/:id
func (h *Handler) updateRequest(c *gin.Context) {
	var in UpdateRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.service.UpdateRequest(c.Request.Context(), auth.UserID(c), c.Param("id"), in)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// deleteRequest handles DELETE /api/v1/blood-requests/:id
func (h *Handler) deleteRequest(c *gin.Context) {
	if err := h.service.DeleteRequest(c.Request.Context(), auth.UserID(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "blood request deleted"})
}

// cancelRequest handles POST /api/v1/blood-requests/:id/cancel
func (h *Handler) cancelRequest(c *gin.Context) {
	if err := h.service.CancelRequest(c.Request.Context(), auth.UserID(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "blood request cancelled"})
}

// acceptRequest handles POST /api/v1/blood-requests/:id/accept
func (h *Handler) acceptRequest(c *gin.Context) {
	view, err := h.service.AcceptRequest(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// submitDonationProof handles POST /api/v1/blood-requests/:id/donation-proof
// as multipart form data with a "photo" file plus optional "notes" and
// "donation_date" fields.
func (h *Handler) submitDonationProof(c *gin.Context) {
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "proof photo is required"})
		return
	}
	defer file.Close()

	var donationDate time.Time
	if raw := c.PostForm("donation_date"); raw != "" {
		donationDate, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "donation_date must be RFC 3339"})
			return
		}
	}

	key := fmt.Sprintf("donation-proofs/%s/%s%s",
		c.Param("id"), uuid.New().String(), filepath.Ext(header.Filename))
	photoURL, err := h.storage.Upload(c.Request.Context(), h.bucket, key, file,
		header.Header.Get("Content-Type"))
	if err != nil {
		h.logger.Error("failed to upload proof photo", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store proof photo"})
		return
	}

	submission, err := h.service.SubmitDonationProof(c.Request.Context(),
		auth.UserID(c), c.Param("id"), photoURL, c.PostForm("notes"), donationDate)
	if err != nil {
		// The object went up before the transition was validated; don't
		// leave it orphaned in the bucket.
		if delErr := h.storage.Delete(c.Request.Context(), h.bucket, key); delErr != nil {
			h.logger.Warn("failed to remove orphaned proof photo",
				zap.String("key", key), zap.Error(delErr))
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, submission)
}

type updateDonationStatusRequest struct {
	Status   VerifyOutcome `json:"status" binding:"required"`
	Feedback string        `json:"feedback"`
}

// updateDonationStatus handles PUT /api/v1/blood-requests/:id/donors/:donorId/status
func (h *Handler) updateDonationStatus(c *gin.Context) {
	var body updateDonationStatusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.service.UpdateDonationStatus(c.Request.Context(),
		auth.UserID(c), c.Param("id"), c.Param("donorId"), body.Status, body.Feedback)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// respondError maps domain errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	var validation *ValidationError
	var limited *RateLimitedError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.As(err, &limited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": limited.Error(), "limit": limited.Limit})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDonorNotFound), errors.Is(err, ErrNoDonorProfile):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotRequestOwner), errors.Is(err, ErrOwnRequest):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrDuplicateResponse), errors.Is(err, ErrCapacityExceeded),
		errors.Is(err, ErrRequestFulfilled), errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request handling failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
