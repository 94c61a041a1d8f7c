package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	CouponTypeCoupon  = "coupon"
	CouponTypeLottery = "lottery"
	CouponTypeNone    = "none"

	ReviewStageUnrated          = "unrated"
	ReviewStageLowFeedback      = "low_feedback"
	ReviewStageMidFeedback      = "mid_feedback"
	ReviewStageHighGamification = "high_gamification"
	ReviewStageTerminal         = "terminal"

	RewardStatusPending    = "pending"
	RewardStatusIssued     = "issued"
	RewardStatusRegistered = "registered"
	RewardStatusSkipped    = "skipped"
	RewardStatusFailed     = "failed"

	MinimumRating = 1
	MaximumRating = 5

	companyNameMaxLength      = 200
	reviewCommentMaxLength    = 4000
	reviewEmailMaxLength      = 320
	reviewPhoneMaxLength      = 32
	reviewIPMaxLength         = 64
	reviewUserAgentMaxLength  = 400
	socialTaskPlatformMaxSize = 64
)

var (
	ErrInvalidCompanyID    = errors.New("invalid_company_id")
	ErrInvalidCompanyName  = errors.New("invalid_company_name")
	ErrInvalidCouponType   = errors.New("invalid_coupon_type")
	ErrInvalidSocialTask   = errors.New("invalid_social_task")
	ErrInvalidReviewRating = errors.New("invalid_review_rating")
)

// SocialTask is a single social-media action offered on the gamification screen.
// The platform name doubles as the task identifier.
type SocialTask struct {
	Platform string `json:"platform" yaml:"platform"`
	URL      string `json:"url" yaml:"url"`
}

// ID returns the task key used in Review.GamificationStepsCompleted.
func (task SocialTask) ID() string {
	return strings.TrimSpace(task.Platform)
}

// FeedbackOption is a selectable "what went wrong" issue.
type FeedbackOption struct {
	Code  string `json:"code" yaml:"code"`
	Label string `json:"label" yaml:"label"`
}

// Company holds the reward and presentation configuration for a review funnel.
type Company struct {
	ID                       string             `gorm:"primaryKey;size:36"`
	Name                     string             `gorm:"not null;size:200"`
	Industry                 string             `gorm:"size:64;index"`
	ColorScheme              string             `gorm:"size:64"`
	GiftDescription          string             `gorm:"size:500"`
	CouponType               string             `gorm:"not null;size:16"`
	SocialTasks              SocialTaskList     `gorm:"type:text"`
	SendCouponEmail          bool               `gorm:"not null;default:false"`
	SendCouponSMS            bool               `gorm:"not null;default:false"`
	SendThankYouEmail        bool               `gorm:"not null;default:false"`
	SendGoogleReviewEmail    bool               `gorm:"not null;default:false"`
	GoogleReviewURL          string             `gorm:"size:500"`
	FeedbackOptions          FeedbackOptionList `gorm:"type:text"`
	MidRatingFeedbackOptions FeedbackOptionList `gorm:"type:text"`
	CreatedAt                time.Time          `gorm:"autoCreateTime"`
	UpdatedAt                time.Time          `gorm:"autoUpdateTime"`
}

// NormalizeCompany validates and normalizes a company configuration.
func NormalizeCompany(company Company) (Company, error) {
	company.ID = strings.TrimSpace(company.ID)
	if company.ID == "" {
		return Company{}, ErrInvalidCompanyID
	}
	company.Name = strings.TrimSpace(company.Name)
	if company.Name == "" || len(company.Name) > companyNameMaxLength {
		return Company{}, fmt.Errorf("%w: empty or too long", ErrInvalidCompanyName)
	}
	couponType, couponErr := ParseCouponType(company.CouponType)
	if couponErr != nil {
		return Company{}, couponErr
	}
	company.CouponType = couponType
	company.Industry = strings.ToLower(strings.TrimSpace(company.Industry))

	seenPlatforms := make(map[string]struct{}, len(company.SocialTasks))
	normalizedTasks := make(SocialTaskList, 0, len(company.SocialTasks))
	for _, task := range company.SocialTasks {
		platform := strings.ToLower(strings.TrimSpace(task.Platform))
		if platform == "" || len(platform) > socialTaskPlatformMaxSize {
			return Company{}, fmt.Errorf("%w: platform", ErrInvalidSocialTask)
		}
		if _, duplicate := seenPlatforms[platform]; duplicate {
			return Company{}, fmt.Errorf("%w: duplicate platform %s", ErrInvalidSocialTask, platform)
		}
		seenPlatforms[platform] = struct{}{}
		normalizedTasks = append(normalizedTasks, SocialTask{Platform: platform, URL: strings.TrimSpace(task.URL)})
	}
	company.SocialTasks = normalizedTasks
	return company, nil
}

// ParseCouponType normalizes a coupon type; an empty value means no reward.
func ParseCouponType(raw string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case "":
		return CouponTypeNone, nil
	case CouponTypeCoupon, CouponTypeLottery, CouponTypeNone:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidCouponType, raw)
	}
}

// Review is one in-progress or completed submission.
type Review struct {
	ID                         string     `gorm:"primaryKey;size:36"`
	CompanyID                  string     `gorm:"not null;size:36;index"`
	Rating                     int        `gorm:"not null;default:0"`
	Stage                      string     `gorm:"not null;size:32;index"`
	SelectedIssues             StringSet  `gorm:"type:text"`
	Comment                    string     `gorm:"size:4000"`
	Email                      string     `gorm:"size:320"`
	Phone                      string     `gorm:"size:32"`
	GamificationStepsCompleted StringSet  `gorm:"type:text"`
	RewardType                 string     `gorm:"size:16"`
	RewardStatus               string     `gorm:"size:16;index"`
	CouponCode                 string     `gorm:"size:64"`
	IP                         string     `gorm:"size:64"`
	UserAgent                  string     `gorm:"size:400"`
	CompletedAt                *time.Time `gorm:"index"`
	CreatedAt                  time.Time  `gorm:"autoCreateTime"`
	UpdatedAt                  time.Time  `gorm:"autoUpdateTime"`
}

// IsTerminal reports whether the review has been sealed.
func (review Review) IsTerminal() bool {
	return review.CompletedAt != nil
}

// ReviewInput holds the raw values used to open a Review.
type ReviewInput struct {
	CompanyID string
	IP        string
	UserAgent string
}

// NewReview constructs an unrated Review for a company.
func NewReview(input ReviewInput) (Review, error) {
	companyID := strings.TrimSpace(input.CompanyID)
	if companyID == "" {
		return Review{}, ErrInvalidCompanyID
	}
	return Review{
		ID:                         uuid.NewString(),
		CompanyID:                  companyID,
		Stage:                      ReviewStageUnrated,
		SelectedIssues:             StringSet{},
		GamificationStepsCompleted: StringSet{},
		RewardStatus:               RewardStatusPending,
		IP:                         truncateString(strings.TrimSpace(input.IP), reviewIPMaxLength),
		UserAgent:                  truncateString(strings.TrimSpace(input.UserAgent), reviewUserAgentMaxLength),
	}, nil
}

// ValidateRating checks that a rating is within the star range.
func ValidateRating(rating int) error {
	if rating < MinimumRating || rating > MaximumRating {
		return fmt.Errorf("%w: %d", ErrInvalidReviewRating, rating)
	}
	return nil
}

// NormalizeComment trims and bounds a free-text comment.
func NormalizeComment(comment string) string {
	return truncateString(strings.TrimSpace(comment), reviewCommentMaxLength)
}

// NormalizeEmail trims, lowercases and bounds an email address.
func NormalizeEmail(email string) string {
	return truncateString(strings.ToLower(strings.TrimSpace(email)), reviewEmailMaxLength)
}

// NormalizePhone trims and bounds a phone number.
func NormalizePhone(phone string) string {
	return truncateString(strings.TrimSpace(phone), reviewPhoneMaxLength)
}

// Coupon is an issued coupon code; one per review.
type Coupon struct {
	ID        string    `gorm:"primaryKey;size:36"`
	ReviewID  string    `gorm:"not null;size:36;uniqueIndex"`
	CompanyID string    `gorm:"not null;size:36;index"`
	Code      string    `gorm:"not null;size:64;uniqueIndex"`
	Email     string    `gorm:"size:320"`
	Phone     string    `gorm:"size:32"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// LotteryEntry registers a review for a company's prize draw; one per review.
type LotteryEntry struct {
	ID        string    `gorm:"primaryKey;size:36"`
	ReviewID  string    `gorm:"not null;size:36;uniqueIndex"`
	CompanyID string    `gorm:"not null;size:36;index"`
	Email     string    `gorm:"size:320"`
	Phone     string    `gorm:"size:32"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// truncateString bounds value to max bytes without splitting a UTF-8 sequence.
func truncateString(value string, max int) string {
	if len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
