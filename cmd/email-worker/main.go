// Package main is the entrypoint for the email worker Lambda function.
//
// The worker consumes invitation jobs from the email SQS queue, renders the
// invitation email, and delivers it through SendGrid. Lambda's partial batch
// response reports failed records back to SQS so only those are retried.
//
// Cold start: logger, AWS SDK configuration, SendGrid client, handler
// registration. With APP_ENV=local the worker reads one SQS event as JSON
// from stdin instead of starting the Lambda runtime, which makes local
// testing possible without the runtime emulator.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"obrador/internal/external"
	"obrador/internal/queue"
)

// EmailSender delivers a rendered message and returns the provider message
// id. Implemented by external.SendGridClient.
type EmailSender interface {
	Send(ctx context.Context, msg external.EmailMessage) (string, error)
}

// Handler holds the dependencies for the email worker.
type Handler struct {
	sender EmailSender
	clock  func() time.Time
	logger *slog.Logger
}

// NewHandler creates a Handler. A nil clock falls back to time.Now.
func NewHandler(sender EmailSender, clock func() time.Time, logger *slog.Logger) *Handler {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sender: sender, clock: clock, logger: logger}
}

// Handle processes one SQS event. Records are independent: a failed record
// lands in BatchItemFailures so SQS redelivers only that record.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var response events.SQSEventResponse

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process invitation email",
				"sqs_message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord renders and delivers a single invitation email.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var msg queue.InvitationEmailMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		// A body that never parses will never parse; retrying is futile.
		h.logger.ErrorContext(ctx, "dropping malformed invitation message",
			"sqs_message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	if msg.Email == "" || msg.AcceptURL == "" {
		h.logger.ErrorContext(ctx, "dropping incomplete invitation message",
			"invitation_id", msg.InvitationID,
		)
		return nil
	}

	if !msg.ExpiresAt.IsZero() && h.clock().After(msg.ExpiresAt) {
		// The token is dead; the invitee would only hit an error page.
		h.logger.WarnContext(ctx, "dropping expired invitation message",
			"invitation_id", msg.InvitationID,
			"expired_at", msg.ExpiresAt,
		)
		return nil
	}

	email, err := renderInvitationEmail(msg)
	if err != nil {
		return fmt.Errorf("rendering invitation email: %w", err)
	}

	providerID, err := h.sender.Send(ctx, email)
	if err != nil {
		return fmt.Errorf("sending invitation email: %w", err)
	}

	h.logger.InfoContext(ctx, "invitation email delivered",
		"invitation_id", msg.InvitationID,
		"business_id", msg.BusinessID,
		"provider_message_id", providerID,
	)
	return nil
}

// invitationSubject builds the subject line from the inviting business name.
func invitationSubject(businessName string) string {
	if businessName == "" {
		return "Te han invitado a un obrador en Obrador"
	}
	return fmt.Sprintf("Te han invitado a unirte a %s en Obrador", businessName)
}

var invitationHTMLTemplate = template.Must(template.New("invitation").Parse(`<!DOCTYPE html>
<html lang="es">
<body style="font-family: sans-serif; color: #2b2b2b;">
  <h2>Invitaci&oacute;n a {{.BusinessName}}</h2>
  <p>Has recibido una invitaci&oacute;n para unirte al equipo de <strong>{{.BusinessName}}</strong> con el rol de <strong>{{.Role}}</strong>.</p>
  <p><a href="{{.AcceptURL}}" style="display: inline-block; padding: 10px 18px; background: #b5543b; color: #ffffff; text-decoration: none; border-radius: 4px;">Aceptar invitaci&oacute;n</a></p>
  <p>El enlace caduca el {{.ExpiresAt}}. Si no esperabas esta invitaci&oacute;n, puedes ignorar este mensaje.</p>
</body>
</html>
`))

// renderInvitationEmail produces the HTML and plain-text bodies for an
// invitation. html/template escapes the business name and URL, so queued
// values cannot inject markup.
func renderInvitationEmail(msg queue.InvitationEmailMessage) (external.EmailMessage, error) {
	data := struct {
		BusinessName string
		Role         string
		AcceptURL    string
		ExpiresAt    string
	}{
		BusinessName: msg.BusinessName,
		Role:         string(msg.Role),
		AcceptURL:    msg.AcceptURL,
		ExpiresAt:    msg.ExpiresAt.Format("02/01/2006"),
	}
	if data.BusinessName == "" {
		data.BusinessName = "un obrador"
	}

	var html strings.Builder
	if err := invitationHTMLTemplate.Execute(&html, data); err != nil {
		return external.EmailMessage{}, err
	}

	text := fmt.Sprintf(
		"Has recibido una invitacion para unirte al equipo de %s con el rol de %s.\n\n"+
			"Acepta la invitacion aqui: %s\n\n"+
			"El enlace caduca el %s. Si no esperabas esta invitacion, ignora este mensaje.\n",
		data.BusinessName, data.Role, msg.AcceptURL, data.ExpiresAt,
	)

	return external.EmailMessage{
		To:          msg.Email,
		Subject:     invitationSubject(msg.BusinessName),
		HTMLBody:    html.String(),
		TextBody:    text,
		ReferenceID: msg.InvitationID,
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("email worker initializing")

	// The worker needs only its delivery credentials, not the API's full
	// configuration, so it reads the environment directly.
	apiKey := os.Getenv("EMAIL_API_KEY")
	if apiKey == "" {
		logger.Error("EMAIL_API_KEY is required")
		os.Exit(1)
	}
	fromAddress := os.Getenv("EMAIL_FROM_ADDRESS")
	if fromAddress == "" {
		fromAddress = "hola@obrador.app"
	}
	fromName := os.Getenv("EMAIL_FROM_NAME")
	if fromName == "" {
		fromName = "Obrador"
	}

	sender := external.NewSendGridClient(
		&http.Client{Timeout: 10 * time.Second},
		external.SendGridClientConfig{
			APIKey:      apiKey,
			FromAddress: fromAddress,
			FromName:    fromName,
			BaseURL:     os.Getenv("EMAIL_API_BASE_URL"),
			Logger:      logger,
		},
	)

	handler := NewHandler(sender, nil, logger)

	logger.Info("email worker initialized",
		"from_address", fromAddress,
	)

	// Local mode: process one JSON SQS event from stdin and exit.
	if os.Getenv("APP_ENV") == "local" {
		if err := runLocal(handler, logger); err != nil {
			logger.Error("local run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal reads an SQS event from stdin and invokes the handler once.
func runLocal(handler *Handler, logger *slog.Logger) error {
	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}

	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		return fmt.Errorf("parsing stdin as SQS event: %w", err)
	}

	response, err := handler.Handle(context.Background(), sqsEvent)
	if err != nil {
		return err
	}

	logger.Info("handler execution completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
	return nil
}
