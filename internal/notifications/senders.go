package notifications

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

var (
	errEmptyRecipient   = errors.New("recipient is required")
	errInvalidRecipient = errors.New("recipient must be an email address")
)

// EmailSender sends an email message to a recipient.
type EmailSender interface {
	SendEmail(ctx context.Context, recipient string, subject string, message string) error
}

// SMSSender sends a text message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, recipient string, message string) error
}

type noopSender struct{}

func (noopSender) SendEmail(ctx context.Context, recipient string, subject string, message string) error {
	return nil
}

func (noopSender) SendSMS(ctx context.Context, recipient string, message string) error {
	return nil
}

func resolveEmailSender(sender EmailSender) EmailSender {
	if sender == nil {
		return noopSender{}
	}
	return sender
}

func resolveSMSSender(sender SMSSender) SMSSender {
	if sender == nil {
		return noopSender{}
	}
	return sender
}

// LoggingSender records outgoing messages in the log instead of delivering them.
// It is used when no delivery provider is configured.
type LoggingSender struct {
	logger *zap.Logger
}

// NewLoggingSender builds a LoggingSender.
func NewLoggingSender(logger *zap.Logger) *LoggingSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingSender{logger: logger}
}

// SendEmail logs the email.
func (sender *LoggingSender) SendEmail(ctx context.Context, recipient string, subject string, message string) error {
	normalizedRecipient := strings.TrimSpace(recipient)
	if normalizedRecipient == "" {
		return errEmptyRecipient
	}
	if !strings.Contains(normalizedRecipient, "@") {
		return errInvalidRecipient
	}
	sender.logger.Info("email_dispatched",
		zap.String("recipient", normalizedRecipient),
		zap.String("subject", strings.TrimSpace(subject)),
		zap.Int("message_length", len(message)),
	)
	return nil
}

// SendSMS logs the text message.
func (sender *LoggingSender) SendSMS(ctx context.Context, recipient string, message string) error {
	normalizedRecipient := strings.TrimSpace(recipient)
	if normalizedRecipient == "" {
		return errEmptyRecipient
	}
	sender.logger.Info("sms_dispatched",
		zap.String("recipient", normalizedRecipient),
		zap.Int("message_length", len(message)),
	)
	return nil
}
