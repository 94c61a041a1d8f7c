package reviewflow

import (
	"errors"
	"fmt"
)

const (
	fieldCompanyID       = "company_id"
	fieldReviewID        = "review_id"
	fieldRating          = "rating"
	fieldContact         = "contact"
	fieldIssues          = "issues"
	fieldTaskID          = "task_id"
	fieldNavigationToken = "navigation_token"
)

var (
	// ErrRatingLocked is returned when a different rating is selected for an already rated review.
	ErrRatingLocked = errors.New("rating_locked")
	// ErrWrongStage is returned when an operation does not apply to the review's current stage.
	ErrWrongStage = errors.New("wrong_stage")
	// ErrOperationInFlight is returned while another submission or task completion runs for the review.
	ErrOperationInFlight = errors.New("operation_in_flight")
	// ErrUnknownIssue is returned for issue codes outside the review's option list.
	ErrUnknownIssue = errors.New("unknown_issue")

	errNavigationMismatch = errors.New("navigation_context_mismatch")
)

// ValidationError reports input the visitor can correct.
type ValidationError struct {
	Field  string
	Reason error
}

func (validationError *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", validationError.Field, validationError.Reason)
}

func (validationError *ValidationError) Unwrap() error {
	return validationError.Reason
}

// MissingContextError reports an absent or unusable identifier at a transition that requires it.
type MissingContextError struct {
	Field string
	Err   error
}

func (missingContextError *MissingContextError) Error() string {
	if missingContextError.Err != nil {
		return fmt.Sprintf("missing %s: %v", missingContextError.Field, missingContextError.Err)
	}
	return fmt.Sprintf("missing %s", missingContextError.Field)
}

func (missingContextError *MissingContextError) Unwrap() error {
	return missingContextError.Err
}

// PersistenceError reports a record store failure.
type PersistenceError struct {
	Operation string
	Err       error
}

func (persistenceError *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed: %v", persistenceError.Operation, persistenceError.Err)
}

func (persistenceError *PersistenceError) Unwrap() error {
	return persistenceError.Err
}
