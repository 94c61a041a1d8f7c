package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
)

var (
	// ErrCompanyNotFound indicates the requested company configuration does not exist.
	ErrCompanyNotFound = errors.New("company_not_found")
	// ErrReviewNotFound indicates the requested review does not exist.
	ErrReviewNotFound = errors.New("review_not_found")
)

// ReviewChanges lists the review fields to overwrite; nil fields are left untouched. The rating is
// written only through SetRatingOnce.
type ReviewChanges struct {
	Stage                      *string
	SelectedIssues             *model.StringSet
	Comment                    *string
	Email                      *string
	Phone                      *string
	GamificationStepsCompleted *model.StringSet
	RewardType                 *string
	RewardStatus               *string
	CouponCode                 *string
}

func (changes ReviewChanges) assignments() map[string]any {
	assignments := make(map[string]any)
	if changes.Stage != nil {
		assignments["stage"] = *changes.Stage
	}
	if changes.SelectedIssues != nil {
		assignments["selected_issues"] = *changes.SelectedIssues
	}
	if changes.Comment != nil {
		assignments["comment"] = *changes.Comment
	}
	if changes.Email != nil {
		assignments["email"] = *changes.Email
	}
	if changes.Phone != nil {
		assignments["phone"] = *changes.Phone
	}
	if changes.GamificationStepsCompleted != nil {
		assignments["gamification_steps_completed"] = *changes.GamificationStepsCompleted
	}
	if changes.RewardType != nil {
		assignments["reward_type"] = *changes.RewardType
	}
	if changes.RewardStatus != nil {
		assignments["reward_status"] = *changes.RewardStatus
	}
	if changes.CouponCode != nil {
		assignments["coupon_code"] = *changes.CouponCode
	}
	return assignments
}

// ReviewRepository is the gorm-backed record store for companies and reviews.
type ReviewRepository struct {
	database *gorm.DB
}

// NewReviewRepository builds a ReviewRepository.
func NewReviewRepository(database *gorm.DB) *ReviewRepository {
	return &ReviewRepository{database: database}
}

// FindCompany loads a company configuration by id.
func (repository *ReviewRepository) FindCompany(ctx context.Context, companyID string) (model.Company, error) {
	var company model.Company
	err := repository.database.WithContext(ctx).First(&company, "id = ?", strings.TrimSpace(companyID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Company{}, fmt.Errorf("%w: %s", ErrCompanyNotFound, companyID)
	}
	return company, err
}

// UpsertCompany inserts or fully replaces a company configuration.
func (repository *ReviewRepository) UpsertCompany(ctx context.Context, company model.Company) error {
	return repository.database.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&company).Error
}

// FindReview loads a review by id.
func (repository *ReviewRepository) FindReview(ctx context.Context, reviewID string) (model.Review, error) {
	var review model.Review
	err := repository.database.WithContext(ctx).First(&review, "id = ?", strings.TrimSpace(reviewID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Review{}, fmt.Errorf("%w: %s", ErrReviewNotFound, reviewID)
	}
	return review, err
}

// CreateOrGetReview resumes the open review identified by resumeReviewID when it belongs to the
// same company, and creates a new review otherwise. The boolean result reports creation.
func (repository *ReviewRepository) CreateOrGetReview(ctx context.Context, input model.ReviewInput, resumeReviewID string) (model.Review, bool, error) {
	normalizedResumeID := strings.TrimSpace(resumeReviewID)
	if normalizedResumeID != "" {
		var existing model.Review
		findErr := repository.database.WithContext(ctx).
			Where("id = ? AND company_id = ? AND completed_at IS NULL", normalizedResumeID, strings.TrimSpace(input.CompanyID)).
			First(&existing).Error
		if findErr == nil {
			return existing, false, nil
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return model.Review{}, false, findErr
		}
	}

	review, reviewErr := model.NewReview(input)
	if reviewErr != nil {
		return model.Review{}, false, reviewErr
	}
	if err := repository.database.WithContext(ctx).Create(&review).Error; err != nil {
		return model.Review{}, false, err
	}
	return review, true, nil
}

// UpdateReview applies partial changes to an open review.
func (repository *ReviewRepository) UpdateReview(ctx context.Context, reviewID string, changes ReviewChanges) error {
	assignments := changes.assignments()
	if len(assignments) == 0 {
		return nil
	}
	result := repository.database.WithContext(ctx).
		Model(&model.Review{}).
		Where("id = ?", strings.TrimSpace(reviewID)).
		Updates(assignments)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrReviewNotFound, reviewID)
	}
	return nil
}

// SetRatingOnce records the rating and entry stage of an unrated open review. It reports false
// when the review was already rated or sealed, so concurrent writers cannot overwrite a rating.
func (repository *ReviewRepository) SetRatingOnce(ctx context.Context, reviewID string, rating int, stage string) (bool, error) {
	result := repository.database.WithContext(ctx).
		Model(&model.Review{}).
		Where("id = ? AND rating = 0 AND completed_at IS NULL", strings.TrimSpace(reviewID)).
		Updates(map[string]any{"rating": rating, "stage": stage})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SealReview writes the final changes and completedAt in one conditional update. It reports
// false when the review was already sealed, so only one caller can ever seal a review.
func (repository *ReviewRepository) SealReview(ctx context.Context, reviewID string, changes ReviewChanges, completedAt time.Time) (bool, error) {
	assignments := changes.assignments()
	assignments["stage"] = model.ReviewStageTerminal
	assignments["completed_at"] = completedAt.UTC()

	result := repository.database.WithContext(ctx).
		Model(&model.Review{}).
		Where("id = ? AND completed_at IS NULL", strings.TrimSpace(reviewID)).
		Updates(assignments)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListReviewsAwaitingReward returns sealed reviews whose reward failed, plus sealed reviews
// still pending since before pendingBefore, oldest first.
func (repository *ReviewRepository) ListReviewsAwaitingReward(ctx context.Context, pendingBefore time.Time, limit int) ([]model.Review, error) {
	query := repository.database.WithContext(ctx).
		Where("completed_at IS NOT NULL").
		Where("reward_status = ? OR (reward_status = ? AND completed_at < ?)", model.RewardStatusFailed, model.RewardStatusPending, pendingBefore.UTC()).
		Order("completed_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var reviews []model.Review
	if err := query.Find(&reviews).Error; err != nil {
		return nil, err
	}
	return reviews, nil
}
