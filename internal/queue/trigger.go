// Package queue provides the SQS producer that dispatches invitation email
// jobs to the email worker. Delivery is asynchronous: the API enqueues and
// returns; the Lambda worker renders and sends the email.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"obrador/internal/config"
	"obrador/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// InvitationEmailMessage is the payload enqueued for each team invitation.
// The raw token is included so the worker can build the accept link; it is
// never persisted anywhere else.
type InvitationEmailMessage struct {
	MessageID    string         `json:"message_id"`
	InvitationID string         `json:"invitation_id"`
	BusinessID   string         `json:"business_id"`
	BusinessName string         `json:"business_name"`
	Email        string         `json:"email"`
	Role         types.TeamRole `json:"role"`
	InvitedBy    string         `json:"invited_by"`
	AcceptURL    string         `json:"accept_url"`
	EnqueuedAt   time.Time      `json:"enqueued_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

// EmailTrigger enqueues invitation email jobs onto the email queue.
type EmailTrigger struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewEmailTrigger creates an EmailTrigger reading the queue URL from the
// AWS configuration.
func NewEmailTrigger(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *EmailTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailTrigger{
		client:   client,
		queueURL: awsCfg.EmailQueueURL,
		logger:   logger,
	}
}

// SendInvitationEmail serializes the message and dispatches it to the email
// queue. A fresh message id is assigned when the caller left it empty.
func (t *EmailTrigger) SendInvitationEmail(ctx context.Context, msg InvitationEmailMessage) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal invitation email message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String("invitation"),
			},
			"business_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.BusinessID),
			},
		},
	}

	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send invitation email message: %w", err)
	}

	t.logger.InfoContext(ctx, "invitation email enqueued",
		"message_id", msg.MessageID,
		"invitation_id", msg.InvitationID,
		"business_id", msg.BusinessID,
	)

	return nil
}
