// Package reward decides and triggers the reward a completed review earns.
package reward

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
)

var errMissingIssuer = errors.New("missing_reward_issuer")

// Contact holds the visitor's contact fields passed to the issuance backend.
type Contact struct {
	Email string
	Phone string
}

// Request identifies the review a reward is issued for.
type Request struct {
	ReviewID  string
	CompanyID string
	Contact   Contact
}

// Issuer is the coupon and lottery issuance backend.
type Issuer interface {
	IssueCoupon(ctx context.Context, request Request) (string, error)
	RegisterLotteryEntry(ctx context.Context, request Request) error
}

// IssuanceError reports a failed coupon or lottery call.
type IssuanceError struct {
	CouponType string
	ReviewID   string
	Err        error
}

func (issuanceError *IssuanceError) Error() string {
	return fmt.Sprintf("reward issuance failed for review %s (%s): %v", issuanceError.ReviewID, issuanceError.CouponType, issuanceError.Err)
}

func (issuanceError *IssuanceError) Unwrap() error {
	return issuanceError.Err
}

// Outcome is the result of a reward attempt. Status is one of the model.RewardStatus values.
type Outcome struct {
	CouponType string
	Status     string
	CouponCode string
	Err        error
}

// RequiresContact reports whether a coupon type needs contact details before submission.
func RequiresContact(couponType string) bool {
	normalized, err := model.ParseCouponType(couponType)
	if err != nil {
		return true
	}
	return normalized != model.CouponTypeNone
}

// Coordinator maps a company's coupon type to an issuance call.
type Coordinator struct {
	issuer Issuer
	logger *zap.Logger
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(issuer Issuer, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{issuer: issuer, logger: logger}
}

// Reward issues the reward for a sealed review. Failures never propagate as errors: they are
// logged and reported through Outcome.Err as an *IssuanceError.
func (coordinator *Coordinator) Reward(ctx context.Context, couponType string, request Request) Outcome {
	normalizedType, parseErr := model.ParseCouponType(couponType)
	if parseErr != nil {
		return coordinator.failed(strings.TrimSpace(couponType), request, parseErr)
	}
	if normalizedType == model.CouponTypeNone {
		return Outcome{CouponType: normalizedType, Status: model.RewardStatusSkipped}
	}
	if coordinator.issuer == nil {
		return coordinator.failed(normalizedType, request, errMissingIssuer)
	}

	switch normalizedType {
	case model.CouponTypeCoupon:
		couponCode, issueErr := coordinator.issuer.IssueCoupon(ctx, request)
		if issueErr != nil {
			return coordinator.failed(normalizedType, request, issueErr)
		}
		coordinator.logger.Info("coupon_issued", zap.String("review_id", request.ReviewID), zap.String("company_id", request.CompanyID))
		return Outcome{CouponType: normalizedType, Status: model.RewardStatusIssued, CouponCode: couponCode}
	default:
		if registerErr := coordinator.issuer.RegisterLotteryEntry(ctx, request); registerErr != nil {
			return coordinator.failed(normalizedType, request, registerErr)
		}
		coordinator.logger.Info("lottery_entry_registered", zap.String("review_id", request.ReviewID), zap.String("company_id", request.CompanyID))
		return Outcome{CouponType: normalizedType, Status: model.RewardStatusRegistered}
	}
}

func (coordinator *Coordinator) failed(couponType string, request Request, cause error) Outcome {
	issuanceError := &IssuanceError{CouponType: couponType, ReviewID: request.ReviewID, Err: cause}
	coordinator.logger.Warn("reward_issuance_failed",
		zap.Error(cause),
		zap.String("review_id", request.ReviewID),
		zap.String("company_id", request.CompanyID),
		zap.String("coupon_type", couponType),
	)
	return Outcome{CouponType: couponType, Status: model.RewardStatusFailed, Err: issuanceError}
}
