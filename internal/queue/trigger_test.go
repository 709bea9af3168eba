package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"obrador/internal/config"
	"obrador/internal/types"
)

// --- Mock SQS Client ---

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	// calls records every SendMessageInput passed to SendMessage.
	calls []*sqs.SendMessageInput
	// err is returned by SendMessage if non-nil (simulates SQS failures).
	err error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

// --- Test Helpers ---

const testEmailQueueURL = "https://sqs.eu-west-1.amazonaws.com/123456789/obrador-email"

func newTestTrigger(mock *mockSQSSender) *EmailTrigger {
	awsCfg := config.AWSConfig{
		EmailQueueURL: testEmailQueueURL,
	}
	return NewEmailTrigger(mock, awsCfg, slog.Default())
}

func testInvitationMessage() InvitationEmailMessage {
	return InvitationEmailMessage{
		InvitationID: "inv_123",
		BusinessID:   "biz_456",
		BusinessName: "Horno de San Juan",
		Email:        "maria@example.com",
		Role:         types.RoleEditor,
		InvitedBy:    "usr_789",
		AcceptURL:    "https://app.obrador.test/invitations/accept?token=tok_abc",
		ExpiresAt:    time.Date(2026, 9, 4, 12, 0, 0, 0, time.UTC),
	}
}

// --- Tests ---

func TestSendInvitationEmail_SendsToEmailQueue(t *testing.T) {
	mock := &mockSQSSender{}
	trigger := newTestTrigger(mock)

	err := trigger.SendInvitationEmail(context.Background(), testInvitationMessage())
	if err != nil {
		t.Fatalf("SendInvitationEmail returned unexpected error: %v", err)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(mock.calls))
	}
	if *mock.calls[0].QueueUrl != testEmailQueueURL {
		t.Errorf("expected queue URL %q, got %q", testEmailQueueURL, *mock.calls[0].QueueUrl)
	}
}

func TestSendInvitationEmail_GeneratesMessageID(t *testing.T) {
	mock := &mockSQSSender{}
	trigger := newTestTrigger(mock)

	err := trigger.SendInvitationEmail(context.Background(), testInvitationMessage())
	if err != nil {
		t.Fatalf("SendInvitationEmail returned unexpected error: %v", err)
	}

	var msg InvitationEmailMessage
	if err := json.Unmarshal([]byte(*mock.calls[0].MessageBody), &msg); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}

	if msg.MessageID == "" {
		t.Error("expected non-empty MessageID")
	}
}

func TestSendInvitationEmail_PreservesCallerMessageID(t *testing.T) {
	mock := &mockSQSSender{}
	trigger := newTestTrigger(mock)

	in := testInvitationMessage()
	in.MessageID = "msg_fixed"

	if err := trigger.SendInvitationEmail(context.Background(), in); err != nil {
		t.Fatalf("SendInvitationEmail returned unexpected error: %v", err)
	}

	var msg InvitationEmailMessage
	if err := json.Unmarshal([]byte(*mock.calls[0].MessageBody), &msg); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}

	if msg.MessageID != "msg_fixed" {
		t.Errorf("expected MessageID %q, got %q", "msg_fixed", msg.MessageID)
	}
}

func TestSendInvitationEmail_SetsEnqueuedAt(t *testing.T) {
	mock := &mockSQSSender{}
	trigger := newTestTrigger(mock)

	before := time.Now().UTC()
	if err := trigger.SendInvitationEmail(context.Background(), testInvitationMessage()); err != nil {
		t.Fatalf("SendInvitationEmail returned unexpected error: %v", err)
	}
	after := time.Now().UTC()

	var msg InvitationEmailMessage
	if err := json.Unmarshal([]byte(*mock.calls[0].MessageBody), &msg); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}

	if msg.EnqueuedAt.Before(before) || msg.EnqueuedAt.After(after) {
		t.Errorf("EnqueuedAt %v not in expected range [%v, %v]", msg.EnqueuedAt, before, after)
	}
}

func TestSendInvitationEmail_SetsMessageAttributes(t *testing.T) {
	mock := &mockSQSSender{}
	trigger := newTestTrigger(mock)

	if err := trigger.SendInvitationEmail(context.Background(), testInvitationMessage()); err != nil {
		t.Fatalf("SendInvitationEmail returned unexpected error: %v", err)
	}

	call := mock.calls[0]

	kind, ok := call.MessageAttributes["kind"]
	if !ok {
		t.Fatal("expected 'kind' message attribute to be set")
	}
	if *kind.StringValue != "invitation" {
		t.Errorf("expected kind attribute %q, got %q", "invitation", *kind.StringValue)
	}
	if *kind.DataType != "String" {
		t.Errorf("expected DataType 'String', got %q", *kind.DataType)
	}

	biz, ok := call.MessageAttributes["business_id"]
	if !ok {
		t.Fatal("expected 'business_id' message attribute to be set")
	}
	if *biz.StringValue != "biz_456" {
		t.Errorf("expected business_id attribute %q, got %q", "biz_456", *biz.StringValue)
	}
}

func TestSendInvitationEmail_PreservesFullPayload(t *testing.T) {
	mock := &mockSQSSender{}
	trigger := newTestTrigger(mock)

	original := testInvitationMessage()
	original.MessageID = "msg_full"

	if err := trigger.SendInvitationEmail(context.Background(), original); err != nil {
		t.Fatalf("SendInvitationEmail returned unexpected error: %v", err)
	}

	var decoded InvitationEmailMessage
	if err := json.Unmarshal([]byte(*mock.calls[0].MessageBody), &decoded); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}

	if decoded.InvitationID != original.InvitationID {
		t.Errorf("InvitationID mismatch: got %q, want %q", decoded.InvitationID, original.InvitationID)
	}
	if decoded.BusinessID != original.BusinessID {
		t.Errorf("BusinessID mismatch: got %q, want %q", decoded.BusinessID, original.BusinessID)
	}
	if decoded.BusinessName != original.BusinessName {
		t.Errorf("BusinessName mismatch: got %q, want %q", decoded.BusinessName, original.BusinessName)
	}
	if decoded.Email != original.Email {
		t.Errorf("Email mismatch: got %q, want %q", decoded.Email, original.Email)
	}
	if decoded.Role != original.Role {
		t.Errorf("Role mismatch: got %q, want %q", decoded.Role, original.Role)
	}
	if decoded.InvitedBy != original.InvitedBy {
		t.Errorf("InvitedBy mismatch: got %q, want %q", decoded.InvitedBy, original.InvitedBy)
	}
	if decoded.AcceptURL != original.AcceptURL {
		t.Errorf("AcceptURL mismatch: got %q, want %q", decoded.AcceptURL, original.AcceptURL)
	}
	if !decoded.ExpiresAt.Equal(original.ExpiresAt) {
		t.Errorf("ExpiresAt mismatch: got %v, want %v", decoded.ExpiresAt, original.ExpiresAt)
	}
}

func TestSendInvitationEmail_SQSError(t *testing.T) {
	sqsErr := fmt.Errorf("access denied")
	mock := &mockSQSSender{err: sqsErr}
	trigger := newTestTrigger(mock)

	err := trigger.SendInvitationEmail(context.Background(), testInvitationMessage())
	if err == nil {
		t.Fatal("expected error from SendInvitationEmail, got nil")
	}
	if !strings.Contains(err.Error(), "failed to send invitation email message") {
		t.Errorf("expected error message to mention send failure, got %q", err.Error())
	}
}

func TestNewEmailTrigger_ConfiguresQueueURL(t *testing.T) {
	mock := &mockSQSSender{}
	awsCfg := config.AWSConfig{
		EmailQueueURL: "https://sqs.eu-west-1.amazonaws.com/custom/email",
	}

	trigger := NewEmailTrigger(mock, awsCfg, slog.Default())

	if trigger.queueURL != awsCfg.EmailQueueURL {
		t.Errorf("queue URL mismatch: got %q, want %q", trigger.queueURL, awsCfg.EmailQueueURL)
	}
}
