// Package notifications delivers the visitor-facing messages a company enables for its review funnel.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
)

const highestRating = model.MaximumRating

var (
	phoneDigitsExpression = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
	phoneSeparatorCleaner = strings.NewReplacer(" ", "", "(", "", ")", "", "-", "")
	errInvalidPhone       = errors.New("unrecognized phone number")
)

// Dispatcher sends completion and coupon messages according to a company's notification flags.
type Dispatcher struct {
	email  EmailSender
	sms    SMSSender
	logger *zap.Logger
}

// NewDispatcher builds a Dispatcher. Nil senders drop their messages silently.
func NewDispatcher(logger *zap.Logger, email EmailSender, sms SMSSender) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		email:  resolveEmailSender(email),
		sms:    resolveSMSSender(sms),
		logger: logger,
	}
}

// NotifyCompletion sends the thank-you email and, for top ratings, the Google review request.
func (dispatcher *Dispatcher) NotifyCompletion(ctx context.Context, company model.Company, review model.Review) error {
	recipient := strings.TrimSpace(review.Email)
	if recipient == "" {
		return nil
	}

	var sendErrors []error
	if company.SendThankYouEmail {
		subject := fmt.Sprintf("Thank you for reviewing %s", strings.TrimSpace(company.Name))
		if err := dispatcher.sendEmail(ctx, review, recipient, subject, buildThankYouMessage(company, review)); err != nil {
			sendErrors = append(sendErrors, err)
		}
	}

	googleReviewURL := strings.TrimSpace(company.GoogleReviewURL)
	if company.SendGoogleReviewEmail && review.Rating == highestRating && googleReviewURL != "" {
		subject := fmt.Sprintf("Share your experience with %s on Google", strings.TrimSpace(company.Name))
		messageBuilder := &strings.Builder{}
		_, _ = fmt.Fprintf(messageBuilder, "We are glad you enjoyed %s.\n\n", strings.TrimSpace(company.Name))
		_, _ = fmt.Fprintf(messageBuilder, "Leave a review on Google:\n%s\n", googleReviewURL)
		if err := dispatcher.sendEmail(ctx, review, recipient, subject, messageBuilder.String()); err != nil {
			sendErrors = append(sendErrors, err)
		}
	}
	return errors.Join(sendErrors...)
}

// NotifyCoupon delivers an issued coupon code by email and text message when the company enables them.
func (dispatcher *Dispatcher) NotifyCoupon(ctx context.Context, company model.Company, email string, phone string, couponCode string) error {
	var sendErrors []error
	message := buildCouponMessage(company, couponCode)

	recipient := strings.TrimSpace(email)
	if company.SendCouponEmail && recipient != "" {
		subject := fmt.Sprintf("Your coupon from %s", strings.TrimSpace(company.Name))
		if err := dispatcher.email.SendEmail(ctx, recipient, subject, message); err != nil {
			dispatcher.logger.Warn("coupon_email_failed", zap.Error(err), zap.String("company_id", company.ID))
			sendErrors = append(sendErrors, err)
		}
	}

	if company.SendCouponSMS && strings.TrimSpace(phone) != "" {
		smsRecipient, recipientErr := normalizeSMSRecipient(phone)
		if recipientErr != nil {
			sendErrors = append(sendErrors, recipientErr)
		} else if err := dispatcher.sms.SendSMS(ctx, smsRecipient, message); err != nil {
			dispatcher.logger.Warn("coupon_sms_failed", zap.Error(err), zap.String("company_id", company.ID))
			sendErrors = append(sendErrors, err)
		}
	}
	return errors.Join(sendErrors...)
}

func (dispatcher *Dispatcher) sendEmail(ctx context.Context, review model.Review, recipient string, subject string, message string) error {
	if err := dispatcher.email.SendEmail(ctx, recipient, subject, message); err != nil {
		dispatcher.logger.Warn("review_email_failed", zap.Error(err), zap.String("review_id", review.ID), zap.String("company_id", review.CompanyID))
		return err
	}
	return nil
}

func buildThankYouMessage(company model.Company, review model.Review) string {
	messageBuilder := &strings.Builder{}
	_, _ = fmt.Fprintf(messageBuilder, "Thank you for rating %s with %d of %d stars.\n", strings.TrimSpace(company.Name), review.Rating, highestRating)
	if review.Comment != "" {
		_, _ = fmt.Fprintf(messageBuilder, "\nYour comment:\n%s\n", review.Comment)
	}
	if review.CouponCode != "" {
		_, _ = fmt.Fprintf(messageBuilder, "\nYour coupon code: %s\n", review.CouponCode)
	}
	return messageBuilder.String()
}

func buildCouponMessage(company model.Company, couponCode string) string {
	messageBuilder := &strings.Builder{}
	_, _ = fmt.Fprintf(messageBuilder, "Your %s coupon code: %s\n", strings.TrimSpace(company.Name), couponCode)
	if description := strings.TrimSpace(company.GiftDescription); description != "" {
		_, _ = fmt.Fprintf(messageBuilder, "%s\n", description)
	}
	return messageBuilder.String()
}

func normalizeSMSRecipient(phone string) (string, error) {
	compact := phoneSeparatorCleaner.Replace(strings.TrimSpace(phone))
	if !phoneDigitsExpression.MatchString(compact) {
		return "", fmt.Errorf("%w: %s", errInvalidPhone, phone)
	}
	return compact, nil
}
