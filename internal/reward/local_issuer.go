package reward

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/storage"
)

const couponCodePrefix = "RF-"

var (
	errMissingDatabase      = errors.New("missing_reward_database")
	errMissingCodeGenerator = errors.New("missing_coupon_code_generator")
	errMissingReviewID      = errors.New("missing_review_id")
)

// CouponNotifier delivers a freshly issued coupon code to the visitor.
type CouponNotifier interface {
	NotifyCoupon(ctx context.Context, company model.Company, email string, phone string, couponCode string) error
}

// LocalIssuer stores coupons and lottery entries in the service database. Both operations are
// idempotent per review.
type LocalIssuer struct {
	database *gorm.DB
	node     *snowflake.Node
	notifier CouponNotifier
	logger   *zap.Logger
}

// NewLocalIssuer builds a LocalIssuer. The notifier is optional.
func NewLocalIssuer(database *gorm.DB, node *snowflake.Node, notifier CouponNotifier, logger *zap.Logger) *LocalIssuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalIssuer{database: database, node: node, notifier: notifier, logger: logger}
}

// IssueCoupon returns the review's coupon code, creating it on the first call.
func (issuer *LocalIssuer) IssueCoupon(ctx context.Context, request Request) (string, error) {
	if err := issuer.validate(request); err != nil {
		return "", err
	}
	if issuer.node == nil {
		return "", errMissingCodeGenerator
	}

	existing, found, findErr := issuer.findCoupon(ctx, request.ReviewID)
	if findErr != nil {
		return "", findErr
	}
	if found {
		return existing.Code, nil
	}

	coupon := model.Coupon{
		ID:        storage.NewID(),
		ReviewID:  strings.TrimSpace(request.ReviewID),
		CompanyID: strings.TrimSpace(request.CompanyID),
		Code:      issuer.newCouponCode(),
		Email:     model.NormalizeEmail(request.Contact.Email),
		Phone:     model.NormalizePhone(request.Contact.Phone),
	}
	if createErr := issuer.database.WithContext(ctx).Create(&coupon).Error; createErr != nil {
		concurrent, raced, raceErr := issuer.findCoupon(ctx, request.ReviewID)
		if raceErr == nil && raced {
			return concurrent.Code, nil
		}
		return "", fmt.Errorf("create coupon: %w", createErr)
	}

	issuer.notifyCoupon(ctx, coupon)
	return coupon.Code, nil
}

// RegisterLotteryEntry enters the review into the company's prize draw once.
func (issuer *LocalIssuer) RegisterLotteryEntry(ctx context.Context, request Request) error {
	if err := issuer.validate(request); err != nil {
		return err
	}
	entry := model.LotteryEntry{
		ID:        storage.NewID(),
		ReviewID:  strings.TrimSpace(request.ReviewID),
		CompanyID: strings.TrimSpace(request.CompanyID),
		Email:     model.NormalizeEmail(request.Contact.Email),
		Phone:     model.NormalizePhone(request.Contact.Phone),
	}
	err := issuer.database.WithContext(ctx).
		Where("review_id = ?", entry.ReviewID).
		FirstOrCreate(&entry).Error
	if err != nil {
		return fmt.Errorf("register lottery entry: %w", err)
	}
	return nil
}

func (issuer *LocalIssuer) validate(request Request) error {
	if issuer.database == nil {
		return errMissingDatabase
	}
	if strings.TrimSpace(request.ReviewID) == "" {
		return errMissingReviewID
	}
	if strings.TrimSpace(request.CompanyID) == "" {
		return model.ErrInvalidCompanyID
	}
	return nil
}

func (issuer *LocalIssuer) findCoupon(ctx context.Context, reviewID string) (model.Coupon, bool, error) {
	var coupon model.Coupon
	err := issuer.database.WithContext(ctx).First(&coupon, "review_id = ?", strings.TrimSpace(reviewID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Coupon{}, false, nil
	}
	if err != nil {
		return model.Coupon{}, false, err
	}
	return coupon, true, nil
}

func (issuer *LocalIssuer) newCouponCode() string {
	return couponCodePrefix + strings.ToUpper(issuer.node.Generate().Base32())
}

func (issuer *LocalIssuer) notifyCoupon(ctx context.Context, coupon model.Coupon) {
	if issuer.notifier == nil {
		return
	}
	if coupon.Email == "" && coupon.Phone == "" {
		return
	}
	var company model.Company
	if err := issuer.database.WithContext(ctx).First(&company, "id = ?", coupon.CompanyID).Error; err != nil {
		issuer.logger.Warn("coupon_notification_company_lookup_failed", zap.Error(err), zap.String("company_id", coupon.CompanyID))
		return
	}
	if err := issuer.notifier.NotifyCoupon(ctx, company, coupon.Email, coupon.Phone, coupon.Code); err != nil {
		issuer.logger.Warn("coupon_notification_failed", zap.Error(err), zap.String("review_id", coupon.ReviewID))
	}
}
