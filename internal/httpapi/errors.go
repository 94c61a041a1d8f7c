package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/contact"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/gamification"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/reviewflow"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/storage"
)

const (
	jsonKeyError  = "error"
	jsonKeyField  = "field"
	jsonKeyReason = "reason"

	errorValueInvalidJSON       = "invalid_json"
	errorValueInvalidRating     = "invalid_rating"
	errorValueRateLimited       = "rate_limited"
	errorValueUnknownCompany    = "unknown_company"
	errorValueUnknownReview     = "unknown_review"
	errorValueWrongStage        = "wrong_stage"
	errorValueRatingLocked      = "rating_locked"
	errorValueOperationInFlight = "operation_in_flight"
	errorValuePersistFailed     = "persist_failed"
	errorValueInternal          = "internal_error"
	errorValueValidationPrefix  = "invalid_"
	errorValueMissingPrefix     = "missing_"
)

var validationReasons = []error{
	contact.ErrContactRequired,
	contact.ErrInvalidEmail,
	contact.ErrInvalidPhone,
	model.ErrInvalidReviewRating,
	reviewflow.ErrUnknownIssue,
	gamification.ErrUnknownTask,
}

func validationReason(err error) string {
	for _, reason := range validationReasons {
		if errors.Is(err, reason) {
			return reason.Error()
		}
	}
	return ""
}

// writeFlowError maps the flow's error taxonomy to a status and error code.
func writeFlowError(context *gin.Context, logger *zap.Logger, err error) {
	var validationError *reviewflow.ValidationError
	var missingContextError *reviewflow.MissingContextError
	var persistenceError *reviewflow.PersistenceError

	switch {
	case errors.As(err, &missingContextError):
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingPrefix + missingContextError.Field})
	case errors.As(err, &validationError):
		context.JSON(http.StatusBadRequest, gin.H{
			jsonKeyError:  errorValueValidationPrefix + validationError.Field,
			jsonKeyField:  validationError.Field,
			jsonKeyReason: validationReason(err),
		})
	case errors.Is(err, storage.ErrCompanyNotFound):
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownCompany})
	case errors.Is(err, storage.ErrReviewNotFound):
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownReview})
	case errors.Is(err, reviewflow.ErrRatingLocked):
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueRatingLocked})
	case errors.Is(err, reviewflow.ErrWrongStage):
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueWrongStage})
	case errors.Is(err, reviewflow.ErrOperationInFlight):
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueOperationInFlight})
	case errors.As(err, &persistenceError):
		context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValuePersistFailed})
	default:
		logger.Error("review_flow_request_failed", zap.Error(err), zap.String("path", context.Request.URL.Path))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInternal})
	}
}
