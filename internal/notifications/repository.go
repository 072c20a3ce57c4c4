package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository persists delivery bookkeeping in Postgres.
type Repository struct {
	db *gorm.DB
}

// NewRepository migrates the delivery tables and returns the repository.
func NewRepository(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&DeliveryLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate notification tables: %w", err)
	}
	return &Repository{db: db}, nil
}

// LogAttempt records one delivery attempt for a channel.
func (r *Repository) LogAttempt(ctx context.Context, job Job, channel, status, errMsg string) error {
	payload, _ := json.Marshal(job)

	log := &DeliveryLog{
		ID:             uuid.New(),
		NotificationID: job.ID.String(),
		UserID:         job.Recipient.UserID,
		Event:          string(job.Event),
		Channel:        channel,
		Status:         status,
		ErrorMessage:   errMsg,
		Payload:        datatypes.JSON(payload),
	}
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to log delivery attempt: %w", err)
	}
	return nil
}

// ListRetryable returns failed deliveries still under the retry cap, oldest
// first. The minimum age keeps the sweep from racing fresh failures.
func (r *Repository) ListRetryable(ctx context.Context, minAge time.Duration, limit int) ([]DeliveryLog, error) {
	var logs []DeliveryLog
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ? AND timestamp < ?",
			StatusFailed, MaxRetries, time.Now().Add(-minAge)).
		Order("timestamp ASC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable deliveries: %w", err)
	}
	return logs, nil
}

// MarkRetried updates a log entry after a retry attempt.
func (r *Repository) MarkRetried(ctx context.Context, id uuid.UUID, status, errMsg string) error {
	err := r.db.WithContext(ctx).Model(&DeliveryLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
			"retry_count":   gorm.Expr("retry_count + 1"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark delivery retried: %w", err)
	}
	return nil
}

// ListForUser returns the user's delivery history, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID string, limit, offset int) ([]DeliveryLog, error) {
	var logs []DeliveryLog
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications for user %s: %w", userID, err)
	}
	return logs, nil
}
