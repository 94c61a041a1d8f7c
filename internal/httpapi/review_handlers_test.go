package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/feedbackoptions"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/httpapi"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/reviewflow"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/reward"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/storage"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/testutil"
)

const (
	testCompanyID        = "bistro"
	testNoRewardCompany  = "gallery"
	testSessionSecret    = "session-secret-session-secret-32"
	testNavigationSecret = "navigation-secret"
	testIssueCode        = "slow_service"
	headerSetCookie      = "Set-Cookie"
	headerCookie         = "Cookie"
)

type stubIssuer struct {
	couponCalls int
}

func (issuer *stubIssuer) IssueCoupon(ctx context.Context, request reward.Request) (string, error) {
	issuer.couponCalls++
	return "RF-HTTP", nil
}

func (issuer *stubIssuer) RegisterLotteryEntry(ctx context.Context, request reward.Request) error {
	return nil
}

type apiHarness struct {
	router *gin.Engine
	issuer *stubIssuer
}

type stepEnvelope struct {
	Step    reviewflow.Step `json:"step"`
	Warning string          `json:"warning"`
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers *httpapi.ReviewHandlers, limiter *httpapi.RateLimiter) *gin.Engine {
	router := gin.New()
	router.GET("/healthz", handlers.Health)
	api := router.Group("/api")
	api.GET("/flow", handlers.LoadFlow)
	api.GET("/gamification", handlers.Gamification)
	api.GET("/reviews/:id", handlers.GetReview)
	api.GET("/companies/:id/feedback-options", handlers.FeedbackOptions)
	writes := api.Group("/reviews/:id")
	if limiter != nil {
		writes.Use(limiter.Middleware())
	}
	writes.POST("/rating", handlers.SelectRating)
	writes.POST("/feedback", handlers.SubmitFeedback)
	writes.POST("/submit", handlers.Submit)
	writes.POST("/tasks", handlers.CompleteTask)
	return router
}

func newAPIHarness(testingT *testing.T) apiHarness {
	testingT.Helper()
	database := testutil.OpenMigratedDatabase(testingT)
	repository := storage.NewReviewRepository(database)
	for _, company := range []model.Company{
		{
			ID:              testCompanyID,
			Name:            "Bistro",
			CouponType:      model.CouponTypeCoupon,
			SocialTasks:     model.SocialTaskList{{Platform: "instagram", URL: "https://instagram.com/bistro"}},
			FeedbackOptions: model.FeedbackOptionList{{Code: testIssueCode, Label: "Slow service"}},
		},
		{ID: testNoRewardCompany, Name: "Gallery", CouponType: model.CouponTypeNone},
	} {
		require.NoError(testingT, repository.UpsertCompany(context.Background(), company))
	}

	signer, signerErr := reviewflow.NewNavigationSigner(testNavigationSecret, time.Hour)
	require.NoError(testingT, signerErr)
	provider := feedbackoptions.NewProvider(repository, nil, zap.NewNop())
	issuer := &stubIssuer{}
	controller, controllerErr := reviewflow.NewController(reviewflow.Dependencies{
		Store:      repository,
		Options:    provider,
		Rewards:    reward.NewCoordinator(issuer, zap.NewNop()),
		Navigation: signer,
		Logger:     zap.NewNop(),
	})
	require.NoError(testingT, controllerErr)

	handlers := httpapi.NewReviewHandlers(controller, provider, httpapi.NewFlowSessionStore(testSessionSecret), zap.NewNop())
	return apiHarness{router: newRouter(handlers, nil), issuer: issuer}
}

func performJSON(router http.Handler, method string, target string, payload any, cookies ...string) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	request := httptest.NewRequest(method, target, &body)
	request.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		request.Header.Add(headerCookie, cookie)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeStep(testingT *testing.T, recorder *httptest.ResponseRecorder) stepEnvelope {
	testingT.Helper()
	var envelope stepEnvelope
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &envelope), recorder.Body.String())
	return envelope
}

func decodeError(testingT *testing.T, recorder *httptest.ResponseRecorder) map[string]string {
	testingT.Helper()
	var payload map[string]string
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &payload), recorder.Body.String())
	return payload
}

func TestHighRatingFlowOverHTTP(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	loadResponse := performJSON(harness.router, http.MethodGet, "/api/flow?company_id="+testCompanyID+"&rating=5", nil)
	require.Equal(testingT, http.StatusOK, loadResponse.Code, loadResponse.Body.String())
	loaded := decodeStep(testingT, loadResponse).Step
	require.Equal(testingT, reviewflow.StageHighGamification, loaded.Stage)
	require.NotNil(testingT, loaded.Navigation)

	gamificationResponse := performJSON(harness.router, http.MethodGet, "/api/gamification?token="+url.QueryEscape(loaded.Navigation.Token), nil)
	require.Equal(testingT, http.StatusOK, gamificationResponse.Code, gamificationResponse.Body.String())
	gamified := decodeStep(testingT, gamificationResponse).Step
	require.NotNil(testingT, gamified.Tasks)
	require.Len(testingT, gamified.Tasks.Tasks, 1)

	taskResponse := performJSON(harness.router, http.MethodPost, "/api/reviews/"+loaded.ReviewID+"/tasks", map[string]string{"task_id": "instagram"})
	require.Equal(testingT, http.StatusOK, taskResponse.Code, taskResponse.Body.String())
	tracked := decodeStep(testingT, taskResponse)
	require.Empty(testingT, tracked.Warning)
	require.Equal(testingT, 100, tracked.Step.Tasks.Progress)

	submitResponse := performJSON(harness.router, http.MethodPost, "/api/reviews/"+loaded.ReviewID+"/submit", map[string]string{"email": "guest@example.com"})
	require.Equal(testingT, http.StatusOK, submitResponse.Code, submitResponse.Body.String())
	submitted := decodeStep(testingT, submitResponse).Step
	require.Equal(testingT, reviewflow.StageTerminal, submitted.Stage)
	require.NotNil(testingT, submitted.Reward)
	require.Equal(testingT, "RF-HTTP", submitted.Reward.CouponCode)

	repeatResponse := performJSON(harness.router, http.MethodPost, "/api/reviews/"+loaded.ReviewID+"/submit", map[string]string{"email": "guest@example.com"})
	require.Equal(testingT, http.StatusOK, repeatResponse.Code)
	require.Equal(testingT, 1, harness.issuer.couponCalls)

	viewResponse := performJSON(harness.router, http.MethodGet, "/api/reviews/"+loaded.ReviewID, nil)
	require.Equal(testingT, http.StatusOK, viewResponse.Code)
	require.Equal(testingT, reviewflow.StageTerminal, decodeStep(testingT, viewResponse).Step.Stage)
}

func TestLowRatingFlowOverHTTP(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	loaded := decodeStep(testingT, performJSON(harness.router, http.MethodGet, "/api/flow?company_id="+testNoRewardCompany, nil)).Step
	require.Equal(testingT, reviewflow.StageUnrated, loaded.Stage)

	ratingResponse := performJSON(harness.router, http.MethodPost, "/api/reviews/"+loaded.ReviewID+"/rating", map[string]int{"rating": 2})
	require.Equal(testingT, http.StatusOK, ratingResponse.Code, ratingResponse.Body.String())
	rated := decodeStep(testingT, ratingResponse).Step
	require.Equal(testingT, reviewflow.StageLowFeedback, rated.Stage)
	require.NotEmpty(testingT, rated.FeedbackOptions)
	require.False(testingT, rated.RequiresContact)

	submitResponse := performJSON(harness.router, http.MethodPost, "/api/reviews/"+loaded.ReviewID+"/submit", map[string]any{
		"issues":  []string{rated.FeedbackOptions[0].Code},
		"comment": "Cold soup",
	})
	require.Equal(testingT, http.StatusOK, submitResponse.Code, submitResponse.Body.String())
	submitted := decodeStep(testingT, submitResponse).Step
	require.Equal(testingT, reviewflow.StageTerminal, submitted.Stage)
	require.Equal(testingT, model.RewardStatusSkipped, submitted.Reward.Status)
}

func TestReviewFlowErrorMapping(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	loaded := decodeStep(testingT, performJSON(harness.router, http.MethodGet, "/api/flow?company_id="+testCompanyID+"&rating=2", nil)).Step

	testCases := []struct {
		name           string
		method         string
		target         string
		payload        any
		expectedStatus int
		expectedError  string
	}{
		{name: "missing company", method: http.MethodGet, target: "/api/flow", expectedStatus: http.StatusBadRequest, expectedError: "missing_company_id"},
		{name: "non numeric rating", method: http.MethodGet, target: "/api/flow?company_id=bistro&rating=five", expectedStatus: http.StatusBadRequest, expectedError: "invalid_rating"},
		{name: "entry rating out of range", method: http.MethodGet, target: "/api/flow?company_id=bistro&rating=9", expectedStatus: http.StatusBadRequest, expectedError: "invalid_rating"},
		{name: "unknown company", method: http.MethodGet, target: "/api/flow?company_id=nowhere", expectedStatus: http.StatusNotFound, expectedError: "unknown_company"},
		{name: "unknown review", method: http.MethodGet, target: "/api/reviews/missing", expectedStatus: http.StatusNotFound, expectedError: "unknown_review"},
		{name: "malformed body", method: http.MethodPost, target: "/api/reviews/" + loaded.ReviewID + "/rating", payload: "not-an-object", expectedStatus: http.StatusBadRequest, expectedError: "invalid_json"},
		{name: "rating out of range", method: http.MethodPost, target: "/api/reviews/" + loaded.ReviewID + "/rating", payload: map[string]int{"rating": 9}, expectedStatus: http.StatusBadRequest, expectedError: "invalid_rating"},
		{name: "rating locked", method: http.MethodPost, target: "/api/reviews/" + loaded.ReviewID + "/rating", payload: map[string]int{"rating": 5}, expectedStatus: http.StatusConflict, expectedError: "rating_locked"},
		{name: "missing contact", method: http.MethodPost, target: "/api/reviews/" + loaded.ReviewID + "/submit", payload: map[string]string{}, expectedStatus: http.StatusBadRequest, expectedError: "invalid_contact"},
		{name: "unknown issue", method: http.MethodPost, target: "/api/reviews/" + loaded.ReviewID + "/submit", payload: map[string]any{"email": "a@b.com", "issues": []string{"mystery"}}, expectedStatus: http.StatusBadRequest, expectedError: "invalid_issues"},
		{name: "tasks in low branch", method: http.MethodPost, target: "/api/reviews/" + loaded.ReviewID + "/tasks", payload: map[string]string{"task_id": "instagram"}, expectedStatus: http.StatusConflict, expectedError: "wrong_stage"},
		{name: "forged token", method: http.MethodGet, target: "/api/gamification?token=forged", expectedStatus: http.StatusBadRequest, expectedError: "missing_navigation_token"},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(testingT *testing.T) {
			recorder := performJSON(harness.router, testCase.method, testCase.target, testCase.payload)
			require.Equal(testingT, testCase.expectedStatus, recorder.Code, recorder.Body.String())
			require.Equal(testingT, testCase.expectedError, decodeError(testingT, recorder)["error"])
		})
	}
}

func TestSubmitReportsValidationReason(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	loaded := decodeStep(testingT, performJSON(harness.router, http.MethodGet, "/api/flow?company_id="+testCompanyID+"&rating=5", nil)).Step

	recorder := performJSON(harness.router, http.MethodPost, "/api/reviews/"+loaded.ReviewID+"/submit", map[string]string{"email": "not-an-email"})
	require.Equal(testingT, http.StatusBadRequest, recorder.Code)
	payload := decodeError(testingT, recorder)
	require.Equal(testingT, "contact", payload["field"])
	require.Equal(testingT, "invalid_email", payload["reason"])
}

func TestLoadFlowResumesFromSessionCookie(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	first := performJSON(harness.router, http.MethodGet, "/api/flow?company_id="+testCompanyID, nil)
	require.Equal(testingT, http.StatusOK, first.Code)
	firstStep := decodeStep(testingT, first).Step
	require.True(testingT, firstStep.Created)
	cookie, _, _ := strings.Cut(first.Header().Get(headerSetCookie), ";")
	require.NotEmpty(testingT, cookie)

	resumed := performJSON(harness.router, http.MethodGet, "/api/flow?company_id="+testCompanyID, nil, cookie)
	require.Equal(testingT, http.StatusOK, resumed.Code)
	resumedStep := decodeStep(testingT, resumed).Step
	require.False(testingT, resumedStep.Created)
	require.Equal(testingT, firstStep.ReviewID, resumedStep.ReviewID)

	fresh := decodeStep(testingT, performJSON(harness.router, http.MethodGet, "/api/flow?company_id="+testCompanyID, nil)).Step
	require.NotEqual(testingT, firstStep.ReviewID, fresh.ReviewID)
}

func TestFeedbackOptionsEndpoint(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	companyResponse := performJSON(harness.router, http.MethodGet, "/api/companies/"+testCompanyID+"/feedback-options", nil)
	require.Equal(testingT, http.StatusOK, companyResponse.Code)
	var companyPayload struct {
		Options []model.FeedbackOption `json:"options"`
		Source  string                 `json:"source"`
	}
	require.NoError(testingT, json.Unmarshal(companyResponse.Body.Bytes(), &companyPayload))
	require.Equal(testingT, string(feedbackoptions.SourceCompany), companyPayload.Source)
	require.Equal(testingT, testIssueCode, companyPayload.Options[0].Code)

	unknownResponse := performJSON(harness.router, http.MethodGet, "/api/companies/nowhere/feedback-options?mid=true", nil)
	require.Equal(testingT, http.StatusOK, unknownResponse.Code)
	var unknownPayload struct {
		Options []model.FeedbackOption `json:"options"`
		Source  string                 `json:"source"`
	}
	require.NoError(testingT, json.Unmarshal(unknownResponse.Body.Bytes(), &unknownPayload))
	require.Equal(testingT, string(feedbackoptions.SourceDefault), unknownPayload.Source)
	require.Equal(testingT, feedbackoptions.DefaultOptions(), unknownPayload.Options)
}

func TestHealthEndpoint(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	recorder := performJSON(harness.router, http.MethodGet, "/healthz", nil)
	require.Equal(testingT, http.StatusOK, recorder.Code)
	require.JSONEq(testingT, `{"status":"ok"}`, recorder.Body.String())
}

type scriptedController struct {
	step reviewflow.Step
	err  error
}

func (controller scriptedController) Load(ctx context.Context, request reviewflow.LoadRequest) (reviewflow.Step, error) {
	return controller.step, controller.err
}

func (controller scriptedController) SelectRating(ctx context.Context, reviewID string, rating int) (reviewflow.Step, error) {
	return controller.step, controller.err
}

func (controller scriptedController) SubmitFeedback(ctx context.Context, reviewID string, input reviewflow.FeedbackInput) (reviewflow.Step, error) {
	return controller.step, controller.err
}

func (controller scriptedController) Submit(ctx context.Context, reviewID string, input reviewflow.SubmissionInput) (reviewflow.Step, error) {
	return controller.step, controller.err
}

func (controller scriptedController) Gamification(ctx context.Context, token string) (reviewflow.Step, error) {
	return controller.step, controller.err
}

func (controller scriptedController) CompleteTask(ctx context.Context, reviewID string, taskID string) (reviewflow.Step, error) {
	return controller.step, controller.err
}

func (controller scriptedController) Review(ctx context.Context, reviewID string) (reviewflow.Step, error) {
	return controller.step, controller.err
}

func TestScriptedErrorsMapToStatusCodes(testingT *testing.T) {
	persistFailure := &reviewflow.PersistenceError{Operation: "seal_review", Err: errors.New("disk full")}
	testCases := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{name: "persistence", err: persistFailure, expectedStatus: http.StatusServiceUnavailable, expectedError: "persist_failed"},
		{name: "in flight", err: fmt.Errorf("%w: review-1", reviewflow.ErrOperationInFlight), expectedStatus: http.StatusConflict, expectedError: "operation_in_flight"},
		{name: "unexpected", err: errors.New("boom"), expectedStatus: http.StatusInternalServerError, expectedError: "internal_error"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(testingT *testing.T) {
			handlers := httpapi.NewReviewHandlers(scriptedController{err: testCase.err}, feedbackoptions.NewProvider(nil, nil, nil), nil, nil)
			recorder := performJSON(newRouter(handlers, nil), http.MethodPost, "/api/reviews/review-1/submit", map[string]string{})
			require.Equal(testingT, testCase.expectedStatus, recorder.Code)
			require.Equal(testingT, testCase.expectedError, decodeError(testingT, recorder)["error"])
		})
	}
}

func TestCompleteTaskReportsUnsavedProgressAsWarning(testingT *testing.T) {
	step := reviewflow.Step{ReviewID: "review-1", CompanyID: testCompanyID, Stage: reviewflow.StageHighGamification}
	controller := scriptedController{
		step: step,
		err:  &reviewflow.PersistenceError{Operation: "record_task", Err: errors.New("connection reset")},
	}
	handlers := httpapi.NewReviewHandlers(controller, feedbackoptions.NewProvider(nil, nil, nil), nil, zap.NewNop())

	recorder := performJSON(newRouter(handlers, nil), http.MethodPost, "/api/reviews/review-1/tasks", map[string]string{"task_id": "instagram"})
	require.Equal(testingT, http.StatusOK, recorder.Code)
	envelope := decodeStep(testingT, recorder)
	require.Equal(testingT, "persist_failed", envelope.Warning)
	require.Equal(testingT, "review-1", envelope.Step.ReviewID)
}

func TestRateLimiterRejectsBurstsPerClient(testingT *testing.T) {
	handlers := httpapi.NewReviewHandlers(scriptedController{}, feedbackoptions.NewProvider(nil, nil, nil), nil, nil)
	router := newRouter(handlers, httpapi.NewRateLimiter(time.Minute, 2))

	for attempt := 0; attempt < 2; attempt++ {
		recorder := performJSON(router, http.MethodPost, "/api/reviews/review-1/rating", map[string]int{"rating": 4})
		require.Equal(testingT, http.StatusOK, recorder.Code)
	}
	limited := performJSON(router, http.MethodPost, "/api/reviews/review-1/rating", map[string]int{"rating": 4})
	require.Equal(testingT, http.StatusTooManyRequests, limited.Code)
	require.Equal(testingT, "rate_limited", decodeError(testingT, limited)["error"])

	reads := performJSON(router, http.MethodGet, "/api/reviews/review-1", nil)
	require.Equal(testingT, http.StatusOK, reads.Code)
}
