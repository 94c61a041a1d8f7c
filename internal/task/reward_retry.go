package task

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/reward"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/storage"
)

const (
	defaultRewardRetryBatchSize   = 50
	defaultRewardPendingGraceTime = 10 * time.Minute
)

var errMissingRewardRetryDependencies = errors.New("missing_reward_retry_dependencies")

// RewardRetryStore reads sealed reviews and records reward results.
type RewardRetryStore interface {
	ListReviewsAwaitingReward(ctx context.Context, pendingBefore time.Time, limit int) ([]model.Review, error)
	FindCompany(ctx context.Context, companyID string) (model.Company, error)
	UpdateReview(ctx context.Context, reviewID string, changes storage.ReviewChanges) error
}

// RewardIssuer triggers a reward.
type RewardIssuer interface {
	Reward(ctx context.Context, couponType string, request reward.Request) reward.Outcome
}

// RewardRetryConfig defines retry behavior. Sealed reviews still pending after PendingGrace are
// treated as interrupted submissions.
type RewardRetryConfig struct {
	BatchSize    int
	PendingGrace time.Duration
	Clock        func() time.Time
}

// RewardRetryJob re-issues rewards for sealed reviews whose issuance failed or never completed.
type RewardRetryJob struct {
	store   RewardRetryStore
	rewards RewardIssuer
	logger  *zap.Logger
	config  RewardRetryConfig
}

// NewRewardRetryJob builds a RewardRetryJob.
func NewRewardRetryJob(store RewardRetryStore, rewards RewardIssuer, logger *zap.Logger, config RewardRetryConfig) *RewardRetryJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultRewardRetryBatchSize
	}
	if config.PendingGrace <= 0 {
		config.PendingGrace = defaultRewardPendingGraceTime
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &RewardRetryJob{store: store, rewards: rewards, logger: logger, config: config}
}

// Run retries one batch. Individual failures are logged and left for the next run.
func (job *RewardRetryJob) Run(ctx context.Context) error {
	if job.store == nil || job.rewards == nil {
		return errMissingRewardRetryDependencies
	}
	pendingBefore := job.config.Clock().Add(-job.config.PendingGrace)
	reviews, listErr := job.store.ListReviewsAwaitingReward(ctx, pendingBefore, job.config.BatchSize)
	if listErr != nil {
		return listErr
	}
	for _, review := range reviews {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job.retry(ctx, review)
	}
	return nil
}

func (job *RewardRetryJob) retry(ctx context.Context, review model.Review) {
	company, companyErr := job.store.FindCompany(ctx, review.CompanyID)
	if companyErr != nil {
		job.logger.Warn("reward_retry_company_lookup_failed", zap.Error(companyErr), zap.String("review_id", review.ID))
		return
	}
	outcome := job.rewards.Reward(ctx, company.CouponType, reward.Request{
		ReviewID:  review.ID,
		CompanyID: review.CompanyID,
		Contact:   reward.Contact{Email: review.Email, Phone: review.Phone},
	})
	if outcome.Status == model.RewardStatusFailed && review.RewardStatus == model.RewardStatusFailed {
		return
	}
	changes := storage.ReviewChanges{
		RewardType:   &outcome.CouponType,
		RewardStatus: &outcome.Status,
		CouponCode:   &outcome.CouponCode,
	}
	if updateErr := job.store.UpdateReview(ctx, review.ID, changes); updateErr != nil {
		job.logger.Warn("reward_retry_save_failed", zap.Error(updateErr), zap.String("review_id", review.ID))
		return
	}
	if outcome.Status == model.RewardStatusFailed {
		job.logger.Warn("reward_retry_failed", zap.String("review_id", review.ID), zap.Error(outcome.Err))
		return
	}
	job.logger.Info("reward_retry_succeeded", zap.String("review_id", review.ID), zap.String("reward_status", outcome.Status))
}
