package notifications

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bloodhero/donation-portal/donation-portal-backend/internal/auth"
)

// stubSubscriber records which user a socket was opened for.
type stubSubscriber struct {
	userID string
	err    error
}

func (s *stubSubscriber) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	s.userID = userID
	return s.err
}

func newSubscribeRouter(subscriber SocketSubscriber) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(auth.ContextUserID, "user-1")
		c.Next()
	})

	handler := NewHandler(nil, subscriber, zap.NewNop())
	handler.RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestSubscribeOpensSocketForAuthenticatedUser(t *testing.T) {
	subscriber := &stubSubscriber{}
	router := newSubscribeRouter(subscriber)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/ws", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", subscriber.userID)
}

func TestSubscribeReportsUpgradeFailure(t *testing.T) {
	subscriber := &stubSubscriber{err: assert.AnError}
	router := newSubscribeRouter(subscriber)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/ws", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
