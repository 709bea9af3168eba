package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"obrador/internal/types"
)

// sendGridAPIBase is the default SendGrid API base URL. Overridable in tests
// via SendGridClientConfig.BaseURL.
const sendGridAPIBase = "https://api.sendgrid.com"

// EmailMessage is a rendered transactional email ready for delivery. The
// email worker builds these from queued invitation jobs.
type EmailMessage struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	// ReferenceID correlates the delivery with the originating record
	// (invitation id).
	ReferenceID string
}

// SendGridClientConfig holds the configuration for creating a SendGridClient.
type SendGridClientConfig struct {
	APIKey      string
	FromAddress string
	FromName    string
	BaseURL     string // override for testing; defaults to sendGridAPIBase
	Logger      *slog.Logger
}

// SendGridClient delivers email through SendGrid's v3 Mail Send API via
// BaseClient, inheriting the shared circuit breaker and retry behavior.
type SendGridClient struct {
	base   *BaseClient
	config SendGridClientConfig
}

// NewSendGridClient creates a SendGridClient. The httpClient should carry a
// timeout of around 10 seconds.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig) *SendGridClient {
	base := NewBaseClient(
		httpClient,
		"sendgrid",
		DefaultRetryPolicy(),
		"Obrador/1.0",
	)
	return NewSendGridClientWithBase(base, cfg)
}

// NewSendGridClientWithBase creates a SendGridClient with a pre-configured
// BaseClient. Used by tests to control retry behavior.
func NewSendGridClientWithBase(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = sendGridAPIBase
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &SendGridClient{
		base:   base,
		config: cfg,
	}
}

// Send transmits a message and returns the provider message id (from the
// X-Message-Id response header). SendGrid answers 202 Accepted on success;
// 429 and 5xx are retried by BaseClient before surfacing here.
func (s *SendGridClient) Send(ctx context.Context, msg EmailMessage) (string, error) {
	payload := s.buildMailPayload(msg)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal mail payload",
			err,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create mail send request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return "", err
		}
		return "", types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("mail send request failed: %v", err),
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return resp.Header.Get("X-Message-Id"), nil
	}

	return "", s.handleErrorResponse(resp)
}

// sendGridMailPayload is the SendGrid v3 mail/send request body.
type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (s *SendGridClient) buildMailPayload(msg EmailMessage) sendGridMailPayload {
	// SendGrid requires text/plain before text/html in the content array.
	var content []sendGridContent
	if msg.TextBody != "" {
		content = append(content, sendGridContent{Type: "text/plain", Value: msg.TextBody})
	}
	if msg.HTMLBody != "" {
		content = append(content, sendGridContent{Type: "text/html", Value: msg.HTMLBody})
	}

	payload := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{
			{To: []sendGridAddress{{Email: msg.To}}},
		},
		From: sendGridAddress{
			Email: s.config.FromAddress,
			Name:  s.config.FromName,
		},
		Subject: msg.Subject,
		Content: content,
	}
	if msg.ReferenceID != "" {
		payload.CustomArgs = map[string]string{"reference_id": msg.ReferenceID}
	}
	return payload
}

// sendGridErrorResponse is the JSON error body returned by SendGrid.
type sendGridErrorResponse struct {
	Errors []sendGridErrorDetail `json:"errors"`
}

type sendGridErrorDetail struct {
	Message string `json:"message"`
	Field   string `json:"field"`
}

func (s *SendGridClient) handleErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("SendGrid returned status %d and response body was unreadable", resp.StatusCode),
			readErr,
		)
	}

	message := string(body)
	var sgErr sendGridErrorResponse
	if jsonErr := json.Unmarshal(body, &sgErr); jsonErr == nil && len(sgErr.Errors) > 0 {
		message = sgErr.Errors[0].Message
	}

	return types.NewAppError(
		types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("SendGrid error (%d): %s", resp.StatusCode, message),
		nil,
	)
}
