package notifications

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// EmailSender is the SESv2 surface the email channel needs.
type EmailSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailChannel delivers notifications over SES.
type EmailChannel struct {
	client EmailSender
	sender string
}

// NewEmailChannel creates an email channel sending from the given address.
func NewEmailChannel(client EmailSender, sender string) *EmailChannel {
	return &EmailChannel{client: client, sender: sender}
}

// Send delivers the rendered message to the recipient's email address.
func (c *EmailChannel) Send(ctx context.Context, job Job, msg Message) error {
	if job.Recipient.Email == "" {
		return fmt.Errorf("recipient %s has no email address", job.Recipient.UserID)
	}

	_, err := c.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.sender),
		Destination: &types.Destination{
			ToAddresses: []string{job.Recipient.Email},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", job.Recipient.Email, err)
	}
	return nil
}
