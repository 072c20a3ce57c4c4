package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// PushPublisher is the SNS surface the push channel needs.
type PushPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// PushChannel delivers notifications through an SNS topic that mobile
// clients subscribe to, filtered per user.
type PushChannel struct {
	client   PushPublisher
	topicARN string
}

// NewPushChannel creates a push channel publishing to the given topic.
func NewPushChannel(client PushPublisher, topicARN string) *PushChannel {
	return &PushChannel{client: client, topicARN: topicARN}
}

type pushPayload struct {
	UserID  string            `json:"user_id"`
	Event   Event             `json:"event"`
	Subject string            `json:"subject"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
}

// Send publishes the message with a user_id attribute so subscription
// filters route it to the right device.
func (c *PushChannel) Send(ctx context.Context, job Job, msg Message) error {
	payload, err := json.Marshal(pushPayload{
		UserID:  job.Recipient.UserID,
		Event:   job.Event,
		Subject: msg.Subject,
		Body:    msg.Body,
		Data:    job.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	_, err = c.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(c.topicARN),
		Subject:  aws.String(msg.Subject),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"user_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(job.Recipient.UserID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish push notification for %s: %w", job.Recipient.UserID, err)
	}
	return nil
}
