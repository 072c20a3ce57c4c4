package notifications

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// DeliveryChannel sends one rendered message to a recipient.
type DeliveryChannel interface {
	Send(ctx context.Context, job Job, msg Message) error
}

// SocketSender pushes a frame to a connected user. Satisfied by the
// websocket manager.
type SocketSender interface {
	SendToUser(userID string, message WebSocketMessage) error
}

// Dispatcher fans a job out to its channels and records every attempt.
// One failed channel never stops the others.
type Dispatcher struct {
	repo   *Repository
	email  DeliveryChannel
	push   DeliveryChannel
	socket SocketSender
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher over the given channels. Any channel
// may be nil; jobs listing it are logged as failed.
func NewDispatcher(repo *Repository, email, push DeliveryChannel, socket SocketSender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, email: email, push: push, socket: socket, logger: logger}
}

// Deliver implements Deliverer.
func (d *Dispatcher) Deliver(ctx context.Context, job Job) {
	msg := Render(job)

	for _, channel := range job.Channels {
		status, errMsg := d.sendOnChannel(ctx, channel, job, msg)

		if err := d.repo.LogAttempt(ctx, job, channel, status, errMsg); err != nil {
			d.logger.Error("failed to record delivery attempt",
				zap.String("notification_id", job.ID.String()),
				zap.String("channel", channel),
				zap.Error(err))
		}

		if status == StatusFailed {
			d.logger.Warn("notification delivery failed",
				zap.String("event", string(job.Event)),
				zap.String("user_id", job.Recipient.UserID),
				zap.String("channel", channel),
				zap.String("error", errMsg))
		}
	}
}

func (d *Dispatcher) sendOnChannel(ctx context.Context, channel string, job Job, msg Message) (status, errMsg string) {
	switch channel {
	case ChannelEmail:
		if d.email == nil {
			return StatusFailed, "email channel not configured"
		}
		if err := d.email.Send(ctx, job, msg); err != nil {
			return StatusFailed, err.Error()
		}
		return StatusSent, ""

	case ChannelPush:
		if d.push == nil {
			return StatusFailed, "push channel not configured"
		}
		if err := d.push.Send(ctx, job, msg); err != nil {
			return StatusFailed, err.Error()
		}
		return StatusSent, ""

	case ChannelWebSocket:
		if d.socket == nil {
			return StatusDropped, "websocket channel not configured"
		}
		err := d.socket.SendToUser(job.Recipient.UserID, WebSocketMessage{
			Type:      WSMessageTypeNotification,
			Event:     job.Event,
			Subject:   msg.Subject,
			Body:      msg.Body,
			Data:      job.Data,
			Timestamp: time.Now(),
		})
		if err != nil {
			// Offline users are expected; a socket miss is not retried.
			return StatusDropped, err.Error()
		}
		return StatusDelivered, ""
	}

	return StatusFailed, "unsupported channel"
}

// RetrySweep re-attempts failed email and push deliveries still under the
// retry cap. Run periodically by the worker binary.
func (d *Dispatcher) RetrySweep(ctx context.Context, minAge time.Duration, limit int) {
	logs, err := d.repo.ListRetryable(ctx, minAge, limit)
	if err != nil {
		d.logger.Error("retry sweep: failed to list deliveries", zap.Error(err))
		return
	}

	for _, entry := range logs {
		var job Job
		if err := json.Unmarshal(entry.Payload, &job); err != nil {
			d.logger.Error("retry sweep: unreadable job payload",
				zap.String("delivery_id", entry.ID.String()), zap.Error(err))
			if err := d.repo.MarkRetried(ctx, entry.ID, StatusDropped, "unreadable payload"); err != nil {
				d.logger.Error("retry sweep: failed to mark delivery", zap.Error(err))
			}
			continue
		}

		msg := Render(job)
		status, errMsg := d.sendOnChannel(ctx, entry.Channel, job, msg)
		if err := d.repo.MarkRetried(ctx, entry.ID, status, errMsg); err != nil {
			d.logger.Error("retry sweep: failed to mark delivery",
				zap.String("delivery_id", entry.ID.String()), zap.Error(err))
		}
	}
}
