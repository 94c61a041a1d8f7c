// Package reviewflow drives a visitor from a star rating to a sealed review: it selects the rating
// branch, gates each transition on the review's stage, validates contact details, seals the review
// exactly once and triggers the company's reward.
package reviewflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/contact"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/feedbackoptions"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/gamification"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/reward"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/storage"
)

var (
	errMissingStore             = errors.New("missing_review_store")
	errMissingRewardCoordinator = errors.New("missing_reward_coordinator")
	errMissingNavigationSigner  = errors.New("missing_navigation_signer")
)

// Store is the record store holding companies and reviews.
type Store interface {
	FindCompany(ctx context.Context, companyID string) (model.Company, error)
	FindReview(ctx context.Context, reviewID string) (model.Review, error)
	CreateOrGetReview(ctx context.Context, input model.ReviewInput, resumeReviewID string) (model.Review, bool, error)
	UpdateReview(ctx context.Context, reviewID string, changes storage.ReviewChanges) error
	SetRatingOnce(ctx context.Context, reviewID string, rating int, stage string) (bool, error)
	SealReview(ctx context.Context, reviewID string, changes storage.ReviewChanges, completedAt time.Time) (bool, error)
}

// OptionsResolver resolves the issue list for a loaded company.
type OptionsResolver interface {
	Resolve(company model.Company, isMidRating bool) ([]model.FeedbackOption, feedbackoptions.Source)
}

// RewardCoordinator triggers the reward for a sealed review.
type RewardCoordinator interface {
	Reward(ctx context.Context, couponType string, request reward.Request) reward.Outcome
}

// CompletionNotifier is told about every sealed review.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, company model.Company, review model.Review) error
}

type noopCompletionNotifier struct{}

func (noopCompletionNotifier) NotifyCompletion(ctx context.Context, company model.Company, review model.Review) error {
	return nil
}

func resolveCompletionNotifier(notifier CompletionNotifier) CompletionNotifier {
	if notifier == nil {
		return noopCompletionNotifier{}
	}
	return notifier
}

// Dependencies lists the collaborators injected into a Controller.
type Dependencies struct {
	Store      Store
	Options    OptionsResolver
	Rewards    RewardCoordinator
	Notifier   CompletionNotifier
	Navigation *NavigationSigner
	SyncPolicy gamification.SyncPolicy
	Logger     *zap.Logger
	Clock      func() time.Time
}

// FlowContext is the state one operation works on: the review, its company and its branch.
// Branch is nil until the review is rated.
type FlowContext struct {
	Review  model.Review
	Company model.Company
	Branch  *Branch
}

func newFlowContext(review model.Review, company model.Company) FlowContext {
	flow := FlowContext{Review: review, Company: company}
	if review.Rating != 0 {
		if branch, err := BranchForRating(review.Rating); err == nil {
			flow.Branch = &branch
		}
	}
	return flow
}

// Presentation holds company hints passed through to the page unchanged.
type Presentation struct {
	CompanyName     string `json:"company_name"`
	ColorScheme     string `json:"color_scheme"`
	GiftDescription string `json:"gift_description"`
	CouponType      string `json:"coupon_type"`
}

// RewardView is the reward state of a sealed review.
type RewardView struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	CouponCode string `json:"coupon_code,omitempty"`
}

// Step describes what the visitor sees after an operation.
type Step struct {
	ReviewID        string                 `json:"review_id"`
	CompanyID       string                 `json:"company_id"`
	Stage           Stage                  `json:"stage"`
	Created         bool                   `json:"created,omitempty"`
	Branch          *Branch                `json:"branch,omitempty"`
	Presentation    Presentation           `json:"presentation"`
	FeedbackOptions []model.FeedbackOption `json:"feedback_options,omitempty"`
	OptionsSource   feedbackoptions.Source `json:"options_source,omitempty"`
	SelectedIssues  model.StringSet        `json:"selected_issues"`
	Comment         string                 `json:"comment"`
	RequiresContact bool                   `json:"requires_contact"`
	Navigation      *Navigation            `json:"navigation,omitempty"`
	Tasks           *gamification.Snapshot `json:"tasks,omitempty"`
	Reward          *RewardView            `json:"reward,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
}

// LoadRequest holds the entry parameters of the flow.
type LoadRequest struct {
	CompanyID      string
	Rating         int
	ResumeReviewID string
	IP             string
	UserAgent      string
}

// FeedbackInput is the feedback sub-form of the low and mid branches.
type FeedbackInput struct {
	Issues  []string
	Comment string
}

// SubmissionInput is the final form of the low and high branches.
type SubmissionInput struct {
	Issues  []string
	Comment string
	Email   string
	Phone   string
}

// Controller is the review flow state machine.
type Controller struct {
	store      Store
	options    OptionsResolver
	rewards    RewardCoordinator
	notifier   CompletionNotifier
	navigation *NavigationSigner
	syncPolicy gamification.SyncPolicy
	logger     *zap.Logger
	clock      func() time.Time
	inFlight   *inFlightGuard
}

// NewController validates dependencies and builds a Controller.
func NewController(dependencies Dependencies) (*Controller, error) {
	if dependencies.Store == nil {
		return nil, errMissingStore
	}
	if dependencies.Rewards == nil {
		return nil, errMissingRewardCoordinator
	}
	if dependencies.Navigation == nil {
		return nil, errMissingNavigationSigner
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	options := dependencies.Options
	if options == nil {
		options = feedbackoptions.NewProvider(nil, nil, logger)
	}
	syncPolicy := dependencies.SyncPolicy
	if syncPolicy == "" {
		syncPolicy = gamification.SyncPolicyOptimisticWithBestEffortSync
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		store:      dependencies.Store,
		options:    options,
		rewards:    dependencies.Rewards,
		notifier:   resolveCompletionNotifier(dependencies.Notifier),
		navigation: dependencies.Navigation,
		syncPolicy: syncPolicy,
		logger:     logger,
		clock:      clock,
		inFlight:   newInFlightGuard(),
	}, nil
}

// Load resolves the company and creates or resumes its review. A non-zero entry rating must be
// 1-5 and is applied only to an unrated review; a rated review keeps its stored branch.
func (controller *Controller) Load(ctx context.Context, request LoadRequest) (Step, error) {
	companyID := strings.TrimSpace(request.CompanyID)
	if companyID == "" {
		return Step{}, &MissingContextError{Field: fieldCompanyID}
	}
	if request.Rating != 0 {
		if err := model.ValidateRating(request.Rating); err != nil {
			return Step{}, &ValidationError{Field: fieldRating, Reason: err}
		}
	}
	company, companyErr := controller.findCompany(ctx, companyID)
	if companyErr != nil {
		return Step{}, companyErr
	}

	review, created, createErr := controller.store.CreateOrGetReview(ctx, model.ReviewInput{
		CompanyID: companyID,
		IP:        request.IP,
		UserAgent: request.UserAgent,
	}, request.ResumeReviewID)
	if createErr != nil {
		return Step{}, controller.persistenceFailure("create_review", "", createErr)
	}
	if created {
		controller.logger.Info("review_created", zap.String("review_id", review.ID), zap.String("company_id", companyID))
	}

	flow := newFlowContext(review, company)
	if flow.Branch == nil && request.Rating != 0 {
		rated, ratingErr := controller.rateOnLoad(ctx, flow, request.Rating)
		if ratingErr != nil {
			return Step{}, ratingErr
		}
		flow = rated
	}

	step, stepErr := controller.stepFor(flow)
	step.Created = created
	return step, stepErr
}

// SelectRating sets the review's rating once and enters the matching branch. Selecting the same
// rating again returns the same branch; a different rating fails with ErrRatingLocked.
func (controller *Controller) SelectRating(ctx context.Context, reviewID string, rating int) (Step, error) {
	normalizedID, idErr := requireReviewID(reviewID)
	if idErr != nil {
		return Step{}, idErr
	}
	if err := model.ValidateRating(rating); err != nil {
		return Step{}, &ValidationError{Field: fieldRating, Reason: err}
	}
	release, acquireErr := controller.inFlight.acquire(normalizedID)
	if acquireErr != nil {
		return Step{}, acquireErr
	}
	defer release()

	flow, loadErr := controller.loadFlow(ctx, normalizedID)
	if loadErr != nil {
		return Step{}, loadErr
	}
	if flow.Review.IsTerminal() {
		return Step{}, fmt.Errorf("%w: review is sealed", ErrWrongStage)
	}
	if flow.Branch != nil {
		if flow.Review.Rating != rating {
			return Step{}, fmt.Errorf("%w: rated %d", ErrRatingLocked, flow.Review.Rating)
		}
		return controller.stepFor(flow)
	}

	rated, applied, ratingErr := controller.applyRating(ctx, flow, rating)
	if ratingErr != nil {
		return Step{}, ratingErr
	}
	if !applied {
		if rated.Review.IsTerminal() {
			return Step{}, fmt.Errorf("%w: review is sealed", ErrWrongStage)
		}
		if rated.Review.Rating != rating {
			return Step{}, fmt.Errorf("%w: rated %d", ErrRatingLocked, rated.Review.Rating)
		}
	}
	return controller.stepFor(rated)
}

// SubmitFeedback saves the feedback sub-form. The low branch keeps the review on its feedback
// screen as a draft; the mid branch moves on to gamification without looking at contact fields.
func (controller *Controller) SubmitFeedback(ctx context.Context, reviewID string, input FeedbackInput) (Step, error) {
	normalizedID, idErr := requireReviewID(reviewID)
	if idErr != nil {
		return Step{}, idErr
	}
	release, acquireErr := controller.inFlight.acquire(normalizedID)
	if acquireErr != nil {
		return Step{}, acquireErr
	}
	defer release()

	flow, loadErr := controller.loadFlow(ctx, normalizedID)
	if loadErr != nil {
		return Step{}, loadErr
	}
	stage := stageOf(flow.Review)
	if stage != StageLowFeedback && stage != StageMidFeedback {
		return Step{}, fmt.Errorf("%w: feedback is not collected in stage %s", ErrWrongStage, stage)
	}

	issues, issuesErr := controller.normalizeIssues(flow, input.Issues)
	if issuesErr != nil {
		return Step{}, issuesErr
	}
	comment := model.NormalizeComment(input.Comment)
	changes := storage.ReviewChanges{SelectedIssues: &issues, Comment: &comment}
	nextStage := string(stage)
	if stage == StageMidFeedback {
		nextStage = string(StageHighGamification)
		changes.Stage = &nextStage
	}
	if err := controller.store.UpdateReview(ctx, normalizedID, changes); err != nil {
		return Step{}, controller.persistenceFailure("save_feedback", normalizedID, err)
	}

	flow.Review.SelectedIssues = issues
	flow.Review.Comment = comment
	flow.Review.Stage = nextStage
	return controller.stepFor(flow)
}

// Submit validates contact details, seals the review and triggers its reward. Submitting a
// sealed review returns its terminal step without another reward call.
func (controller *Controller) Submit(ctx context.Context, reviewID string, input SubmissionInput) (Step, error) {
	normalizedID, idErr := requireReviewID(reviewID)
	if idErr != nil {
		return Step{}, idErr
	}
	release, acquireErr := controller.inFlight.acquire(normalizedID)
	if acquireErr != nil {
		return Step{}, acquireErr
	}
	defer release()

	flow, loadErr := controller.loadFlow(ctx, normalizedID)
	if loadErr != nil {
		return Step{}, loadErr
	}
	if flow.Review.IsTerminal() {
		return controller.stepFor(flow)
	}
	stage := stageOf(flow.Review)
	if stage != StageLowFeedback && stage != StageHighGamification {
		return Step{}, fmt.Errorf("%w: cannot submit in stage %s", ErrWrongStage, stage)
	}

	requirement := contact.ContactOptional
	if reward.RequiresContact(flow.Company.CouponType) {
		requirement = contact.ContactRequired
	}
	if result := contact.ValidateWith(requirement, input.Email, input.Phone); !result.OK {
		return Step{}, &ValidationError{Field: fieldContact, Reason: result.Reason}
	}

	comment := model.NormalizeComment(input.Comment)
	email := model.NormalizeEmail(input.Email)
	phone := model.NormalizePhone(input.Phone)
	changes := storage.ReviewChanges{Comment: &comment, Email: &email, Phone: &phone}
	if stage == StageLowFeedback {
		issues, issuesErr := controller.normalizeIssues(flow, input.Issues)
		if issuesErr != nil {
			return Step{}, issuesErr
		}
		changes.SelectedIssues = &issues
		flow.Review.SelectedIssues = issues
	}

	completedAt := controller.clock().UTC()
	sealed, sealErr := controller.store.SealReview(ctx, normalizedID, changes, completedAt)
	if sealErr != nil {
		return Step{}, controller.persistenceFailure("seal_review", normalizedID, sealErr)
	}
	if !sealed {
		current, reloadErr := controller.loadFlow(ctx, normalizedID)
		if reloadErr != nil {
			return Step{}, reloadErr
		}
		return controller.stepFor(current)
	}

	flow.Review.Comment = comment
	flow.Review.Email = email
	flow.Review.Phone = phone
	flow.Review.Stage = string(StageTerminal)
	flow.Review.CompletedAt = &completedAt

	outcome := controller.rewards.Reward(ctx, flow.Company.CouponType, reward.Request{
		ReviewID:  normalizedID,
		CompanyID: flow.Company.ID,
		Contact:   reward.Contact{Email: email, Phone: phone},
	})
	controller.recordRewardOutcome(ctx, &flow, outcome)

	if notifyErr := controller.notifier.NotifyCompletion(ctx, flow.Company, flow.Review); notifyErr != nil {
		controller.logger.Warn("completion_notification_failed", zap.Error(notifyErr), zap.String("review_id", normalizedID))
	}
	controller.logger.Info("review_submitted",
		zap.String("review_id", normalizedID),
		zap.String("company_id", flow.Company.ID),
		zap.Int("rating", flow.Review.Rating),
		zap.String("reward_status", outcome.Status),
	)
	return controller.stepFor(flow)
}

// Gamification opens the task screen from a navigation token.
func (controller *Controller) Gamification(ctx context.Context, token string) (Step, error) {
	navigation, verifyErr := controller.navigation.Verify(token)
	if verifyErr != nil {
		return Step{}, verifyErr
	}
	flow, loadErr := controller.loadFlow(ctx, navigation.ReviewID)
	if loadErr != nil {
		return Step{}, loadErr
	}
	if flow.Review.CompanyID != navigation.CompanyID || flow.Review.Rating != navigation.Rating {
		return Step{}, &MissingContextError{Field: fieldNavigationToken, Err: errNavigationMismatch}
	}
	stage := stageOf(flow.Review)
	if stage != StageHighGamification && stage != StageTerminal {
		return Step{}, fmt.Errorf("%w: gamification is not available in stage %s", ErrWrongStage, stage)
	}
	return controller.stepFor(flow)
}

// CompleteTask marks a social task done. When the completion cannot be persisted the step still
// reflects the state kept under the sync policy and the error is a *PersistenceError.
func (controller *Controller) CompleteTask(ctx context.Context, reviewID string, taskID string) (Step, error) {
	normalizedID, idErr := requireReviewID(reviewID)
	if idErr != nil {
		return Step{}, idErr
	}
	release, acquireErr := controller.inFlight.acquire(normalizedID)
	if acquireErr != nil {
		return Step{}, acquireErr
	}
	defer release()

	flow, loadErr := controller.loadFlow(ctx, normalizedID)
	if loadErr != nil {
		return Step{}, loadErr
	}
	if stage := stageOf(flow.Review); stage != StageHighGamification {
		return Step{}, fmt.Errorf("%w: tasks are not available in stage %s", ErrWrongStage, stage)
	}

	tracker := controller.trackerFor(flow, func(persistCtx context.Context, completed model.StringSet) error {
		return controller.store.UpdateReview(persistCtx, normalizedID, storage.ReviewChanges{GamificationStepsCompleted: &completed})
	})
	snapshot, completeErr := tracker.CompleteTask(ctx, taskID)
	if errors.Is(completeErr, gamification.ErrUnknownTask) {
		return Step{}, &ValidationError{Field: fieldTaskID, Reason: completeErr}
	}
	flow.Review.GamificationStepsCompleted = snapshot.CompletedTaskIDs

	step, stepErr := controller.stepFor(flow)
	if stepErr != nil {
		return Step{}, stepErr
	}
	if completeErr != nil {
		return step, controller.persistenceFailure("complete_task", normalizedID, completeErr)
	}
	return step, nil
}

// Review returns the current step of a review. A review with a submission in progress reports
// StageSubmitting.
func (controller *Controller) Review(ctx context.Context, reviewID string) (Step, error) {
	normalizedID, idErr := requireReviewID(reviewID)
	if idErr != nil {
		return Step{}, idErr
	}
	flow, loadErr := controller.loadFlow(ctx, normalizedID)
	if loadErr != nil {
		return Step{}, loadErr
	}
	step, stepErr := controller.stepFor(flow)
	if stepErr != nil {
		return Step{}, stepErr
	}
	if step.Stage != StageTerminal && controller.inFlight.busy(normalizedID) {
		step.Stage = StageSubmitting
	}
	return step, nil
}

func (controller *Controller) rateOnLoad(ctx context.Context, flow FlowContext, rating int) (FlowContext, error) {
	release, acquireErr := controller.inFlight.acquire(flow.Review.ID)
	if acquireErr != nil {
		return FlowContext{}, acquireErr
	}
	defer release()
	rated, _, ratingErr := controller.applyRating(ctx, flow, rating)
	return rated, ratingErr
}

// applyRating stores the rating with a conditional write. When another writer rated or sealed the
// review first, it reports false and returns the reloaded flow.
func (controller *Controller) applyRating(ctx context.Context, flow FlowContext, rating int) (FlowContext, bool, error) {
	branch, branchErr := BranchForRating(rating)
	if branchErr != nil {
		return FlowContext{}, false, branchErr
	}
	stage := string(branch.EntryStage())
	applied, setErr := controller.store.SetRatingOnce(ctx, flow.Review.ID, rating, stage)
	if setErr != nil {
		return FlowContext{}, false, controller.persistenceFailure("save_rating", flow.Review.ID, setErr)
	}
	if !applied {
		current, reloadErr := controller.loadFlow(ctx, flow.Review.ID)
		if reloadErr != nil {
			return FlowContext{}, false, reloadErr
		}
		return current, false, nil
	}
	flow.Review.Rating = rating
	flow.Review.Stage = stage
	flow.Branch = &branch
	return flow, true, nil
}

func (controller *Controller) loadFlow(ctx context.Context, reviewID string) (FlowContext, error) {
	review, reviewErr := controller.store.FindReview(ctx, reviewID)
	if reviewErr != nil {
		if errors.Is(reviewErr, storage.ErrReviewNotFound) {
			return FlowContext{}, reviewErr
		}
		return FlowContext{}, controller.persistenceFailure("load_review", reviewID, reviewErr)
	}
	company, companyErr := controller.findCompany(ctx, review.CompanyID)
	if companyErr != nil {
		return FlowContext{}, companyErr
	}
	return newFlowContext(review, company), nil
}

func (controller *Controller) findCompany(ctx context.Context, companyID string) (model.Company, error) {
	company, err := controller.store.FindCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, storage.ErrCompanyNotFound) {
			return model.Company{}, err
		}
		return model.Company{}, controller.persistenceFailure("load_company", "", err)
	}
	return company, nil
}

func (controller *Controller) stepFor(flow FlowContext) (Step, error) {
	stage := stageOf(flow.Review)
	step := Step{
		ReviewID:  flow.Review.ID,
		CompanyID: flow.Review.CompanyID,
		Stage:     stage,
		Branch:    flow.Branch,
		Presentation: Presentation{
			CompanyName:     flow.Company.Name,
			ColorScheme:     flow.Company.ColorScheme,
			GiftDescription: flow.Company.GiftDescription,
			CouponType:      flow.Company.CouponType,
		},
		SelectedIssues:  append(model.StringSet{}, flow.Review.SelectedIssues...),
		Comment:         flow.Review.Comment,
		RequiresContact: reward.RequiresContact(flow.Company.CouponType),
		CompletedAt:     flow.Review.CompletedAt,
	}

	if flow.Branch != nil && flow.Branch.CollectsIssues && (stage == StageLowFeedback || stage == StageMidFeedback) {
		step.FeedbackOptions, step.OptionsSource = controller.options.Resolve(flow.Company, flow.Branch.IsMidRating())
	}
	if stage == StageHighGamification {
		navigation, navigationErr := controller.navigation.Issue(flow.Review.CompanyID, flow.Review.Rating, flow.Review.ID)
		if navigationErr != nil {
			return Step{}, navigationErr
		}
		step.Navigation = &navigation
	}
	if flow.Branch != nil && flow.Branch.Kind != BranchLow && (stage == StageHighGamification || stage == StageTerminal) {
		snapshot := controller.trackerFor(flow, nil).Snapshot()
		step.Tasks = &snapshot
	}
	if stage == StageTerminal {
		step.Reward = &RewardView{
			Type:       flow.Review.RewardType,
			Status:     flow.Review.RewardStatus,
			CouponCode: flow.Review.CouponCode,
		}
	}
	return step, nil
}

func (controller *Controller) trackerFor(flow FlowContext, persist gamification.Persister) *gamification.Tracker {
	return gamification.NewTracker(flow.Company.SocialTasks, flow.Review.GamificationStepsCompleted, persist, controller.syncPolicy)
}

func (controller *Controller) normalizeIssues(flow FlowContext, rawIssues []string) (model.StringSet, error) {
	issues := model.NewStringSet(rawIssues...)
	if len(issues) == 0 || flow.Branch == nil {
		return issues, nil
	}
	options, _ := controller.options.Resolve(flow.Company, flow.Branch.IsMidRating())
	allowed := make(map[string]struct{}, len(options))
	for _, option := range options {
		allowed[option.Code] = struct{}{}
	}
	for _, issue := range issues {
		if _, known := allowed[issue]; !known {
			return nil, &ValidationError{Field: fieldIssues, Reason: fmt.Errorf("%w: %s", ErrUnknownIssue, issue)}
		}
	}
	return issues, nil
}

func (controller *Controller) recordRewardOutcome(ctx context.Context, flow *FlowContext, outcome reward.Outcome) {
	flow.Review.RewardType = outcome.CouponType
	flow.Review.RewardStatus = outcome.Status
	flow.Review.CouponCode = outcome.CouponCode
	changes := storage.ReviewChanges{
		RewardType:   &flow.Review.RewardType,
		RewardStatus: &flow.Review.RewardStatus,
		CouponCode:   &flow.Review.CouponCode,
	}
	if err := controller.store.UpdateReview(ctx, flow.Review.ID, changes); err != nil {
		controller.logger.Warn("save_reward_status_failed", zap.Error(err), zap.String("review_id", flow.Review.ID))
	}
}

func (controller *Controller) persistenceFailure(operation string, reviewID string, cause error) error {
	controller.logger.Warn("review_persistence_failed",
		zap.String("operation", operation),
		zap.String("review_id", reviewID),
		zap.Error(cause),
	)
	return &PersistenceError{Operation: operation, Err: cause}
}

func requireReviewID(reviewID string) (string, error) {
	normalizedID := strings.TrimSpace(reviewID)
	if normalizedID == "" {
		return "", &MissingContextError{Field: fieldReviewID}
	}
	return normalizedID, nil
}
