package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/feedbackoptions"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/reviewflow"
)

const warningPersistFailed = "persist_failed"

// FlowController is the review flow the handlers expose.
type FlowController interface {
	Load(ctx context.Context, request reviewflow.LoadRequest) (reviewflow.Step, error)
	SelectRating(ctx context.Context, reviewID string, rating int) (reviewflow.Step, error)
	SubmitFeedback(ctx context.Context, reviewID string, input reviewflow.FeedbackInput) (reviewflow.Step, error)
	Submit(ctx context.Context, reviewID string, input reviewflow.SubmissionInput) (reviewflow.Step, error)
	Gamification(ctx context.Context, token string) (reviewflow.Step, error)
	CompleteTask(ctx context.Context, reviewID string, taskID string) (reviewflow.Step, error)
	Review(ctx context.Context, reviewID string) (reviewflow.Step, error)
}

// OptionsLoader starts a lazy issue list lookup.
type OptionsLoader interface {
	Load(ctx context.Context, companyID string, isMidRating bool) *feedbackoptions.OptionsLoad
}

// ReviewHandlers serves the review flow over JSON.
type ReviewHandlers struct {
	controller FlowController
	options    OptionsLoader
	sessions   flowSessions
	logger     *zap.Logger
}

// NewReviewHandlers builds ReviewHandlers. A nil session store disables cookie-based resume.
func NewReviewHandlers(controller FlowController, options OptionsLoader, sessionStore sessions.Store, logger *zap.Logger) *ReviewHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewHandlers{
		controller: controller,
		options:    options,
		sessions:   flowSessions{store: sessionStore, logger: logger},
		logger:     logger,
	}
}

type flowResponse struct {
	Step    reviewflow.Step `json:"step"`
	Warning string          `json:"warning,omitempty"`
}

type ratingRequest struct {
	Rating int `json:"rating"`
}

type feedbackRequest struct {
	Issues  []string `json:"issues"`
	Comment string   `json:"comment"`
}

type submitRequest struct {
	Issues  []string `json:"issues"`
	Comment string   `json:"comment"`
	Email   string   `json:"email"`
	Phone   string   `json:"phone"`
}

type completeTaskRequest struct {
	TaskID string `json:"task_id"`
}

// LoadFlow handles GET /api/flow.
func (handlers *ReviewHandlers) LoadFlow(context *gin.Context) {
	companyID := strings.TrimSpace(context.Query("company_id"))
	rating := 0
	if rawRating := strings.TrimSpace(context.Query("rating")); rawRating != "" {
		parsedRating, parseErr := strconv.Atoi(rawRating)
		if parseErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidRating})
			return
		}
		rating = parsedRating
	}
	resumeReviewID := strings.TrimSpace(context.Query("review_id"))
	if resumeReviewID == "" && companyID != "" {
		resumeReviewID = handlers.sessions.resumeReviewID(context.Request, companyID)
	}

	step, err := handlers.controller.Load(context.Request.Context(), reviewflow.LoadRequest{
		CompanyID:      companyID,
		Rating:         rating,
		ResumeReviewID: resumeReviewID,
		IP:             context.ClientIP(),
		UserAgent:      context.Request.UserAgent(),
	})
	if err != nil {
		writeFlowError(context, handlers.logger, err)
		return
	}
	handlers.sessions.remember(context.Writer, context.Request, step.CompanyID, step.ReviewID)
	context.JSON(http.StatusOK, flowResponse{Step: step})
}

// SelectRating handles POST /api/reviews/:id/rating.
func (handlers *ReviewHandlers) SelectRating(context *gin.Context) {
	var payload ratingRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	step, err := handlers.controller.SelectRating(context.Request.Context(), context.Param("id"), payload.Rating)
	handlers.respond(context, step, err)
}

// SubmitFeedback handles POST /api/reviews/:id/feedback.
func (handlers *ReviewHandlers) SubmitFeedback(context *gin.Context) {
	var payload feedbackRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	step, err := handlers.controller.SubmitFeedback(context.Request.Context(), context.Param("id"), reviewflow.FeedbackInput{
		Issues:  payload.Issues,
		Comment: payload.Comment,
	})
	handlers.respond(context, step, err)
}

// Submit handles POST /api/reviews/:id/submit.
func (handlers *ReviewHandlers) Submit(context *gin.Context) {
	var payload submitRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	step, err := handlers.controller.Submit(context.Request.Context(), context.Param("id"), reviewflow.SubmissionInput{
		Issues:  payload.Issues,
		Comment: payload.Comment,
		Email:   payload.Email,
		Phone:   payload.Phone,
	})
	if err != nil {
		writeFlowError(context, handlers.logger, err)
		return
	}
	if step.Stage == reviewflow.StageTerminal {
		handlers.sessions.forget(context.Writer, context.Request, step.CompanyID)
	}
	context.JSON(http.StatusOK, flowResponse{Step: step})
}

// Gamification handles GET /api/gamification.
func (handlers *ReviewHandlers) Gamification(context *gin.Context) {
	step, err := handlers.controller.Gamification(context.Request.Context(), context.Query("token"))
	handlers.respond(context, step, err)
}

// CompleteTask handles POST /api/reviews/:id/tasks. A completion that could not be saved is
// still reported with 200 and a warning.
func (handlers *ReviewHandlers) CompleteTask(context *gin.Context) {
	var payload completeTaskRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	step, err := handlers.controller.CompleteTask(context.Request.Context(), context.Param("id"), payload.TaskID)
	var persistenceError *reviewflow.PersistenceError
	if errors.As(err, &persistenceError) && step.ReviewID != "" {
		handlers.logger.Warn("task_completion_not_persisted", zap.Error(err), zap.String("review_id", step.ReviewID))
		context.JSON(http.StatusOK, flowResponse{Step: step, Warning: warningPersistFailed})
		return
	}
	handlers.respond(context, step, err)
}

// GetReview handles GET /api/reviews/:id.
func (handlers *ReviewHandlers) GetReview(context *gin.Context) {
	step, err := handlers.controller.Review(context.Request.Context(), context.Param("id"))
	handlers.respond(context, step, err)
}

// FeedbackOptions handles GET /api/companies/:id/feedback-options.
func (handlers *ReviewHandlers) FeedbackOptions(context *gin.Context) {
	companyID := strings.TrimSpace(context.Param("id"))
	if companyID == "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingPrefix + "company_id"})
		return
	}
	isMidRating, _ := strconv.ParseBool(strings.TrimSpace(context.Query("mid")))
	load := handlers.options.Load(context.Request.Context(), companyID, isMidRating)
	context.JSON(http.StatusOK, gin.H{
		"options": load.Options(),
		"source":  load.Source(),
	})
}

// Health handles GET /healthz.
func (handlers *ReviewHandlers) Health(context *gin.Context) {
	context.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handlers *ReviewHandlers) respond(context *gin.Context, step reviewflow.Step, err error) {
	if err != nil {
		writeFlowError(context, handlers.logger, err)
		return
	}
	context.JSON(http.StatusOK, flowResponse{Step: step})
}
