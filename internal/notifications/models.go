package notifications

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Event identifies the lifecycle transition a notification reports.
type Event string

const (
	EventRequestCreated    Event = "REQUEST_CREATED"
	EventNearbyRequest     Event = "NEARBY_REQUEST"
	EventDonorAccepted     Event = "DONOR_ACCEPTED"
	EventProofSubmitted    Event = "PROOF_SUBMITTED"
	EventDonationConfirmed Event = "DONATION_CONFIRMED"
	EventDonationRejected  Event = "DONATION_REJECTED"
	EventReuploadRequested Event = "REUPLOAD_REQUESTED"
	EventDonorSettled      Event = "DONOR_SETTLED"
	EventRequestCancelled  Event = "REQUEST_CANCELLED"
)

// Delivery channels.
const (
	ChannelEmail     = "EMAIL"
	ChannelPush      = "PUSH"
	ChannelWebSocket = "WEBSOCKET"
)

// Delivery statuses.
const (
	StatusPending   = "PENDING"
	StatusSent      = "SENT"
	StatusDelivered = "DELIVERED"
	StatusFailed    = "FAILED"
	StatusDropped   = "DROPPED"
)

// MaxRetries bounds how often the retry sweep re-attempts a failed delivery.
const MaxRetries = 3

// Recipient is who a notification goes to.
type Recipient struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
}

// Job is one queued notification. Delivery is fanned out to every listed
// channel; a failed channel never blocks the others.
type Job struct {
	ID         uuid.UUID         `json:"id"`
	Event      Event             `json:"event"`
	Recipient  Recipient         `json:"recipient"`
	Data       map[string]string `json:"data"`
	Channels   []string          `json:"channels"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Message is the rendered form of a job for one recipient.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// DeliveryLog tracks one delivery attempt per channel.
type DeliveryLog struct {
	ID             uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	NotificationID string         `json:"notification_id" gorm:"not null;index"`
	UserID         string         `json:"user_id" gorm:"not null;index"`
	Event          string         `json:"event" gorm:"not null"`
	Channel        string         `json:"channel" gorm:"not null"`
	Status         string         `json:"status" gorm:"not null;index"`
	ErrorMessage   string         `json:"error_message" gorm:""`
	Payload        datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	RetryCount     int            `json:"retry_count" gorm:"default:0"`
	Timestamp      time.Time      `json:"timestamp" gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// WebSocketMessage is the frame pushed to connected clients.
type WebSocketMessage struct {
	Type      string            `json:"type"`
	Event     Event             `json:"event"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Target    string            `json:"target"`
}

// WebSocket message types.
const (
	WSMessageTypeNotification = "notification"
	WSMessageTypeStatus       = "status"
)

// DefaultChannels per event. Time-critical transitions go out on every
// channel; the rest skip push.
var DefaultChannels = map[Event][]string{
	EventRequestCreated:    {ChannelEmail, ChannelWebSocket},
	EventNearbyRequest:     {ChannelEmail, ChannelPush, ChannelWebSocket},
	EventDonorAccepted:     {ChannelEmail, ChannelPush, ChannelWebSocket},
	EventProofSubmitted:    {ChannelEmail, ChannelPush, ChannelWebSocket},
	EventDonationConfirmed: {ChannelEmail, ChannelWebSocket},
	EventDonationRejected:  {ChannelEmail, ChannelWebSocket},
	EventReuploadRequested: {ChannelEmail, ChannelPush, ChannelWebSocket},
	EventDonorSettled:      {ChannelEmail, ChannelWebSocket},
	EventRequestCancelled:  {ChannelEmail, ChannelWebSocket},
}
