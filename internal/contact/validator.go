// Package contact validates the email and phone fields collected at the end of a review.
package contact

import (
	"errors"
	"regexp"
	"strings"
)

// MaxEmailLength is the longest address a review can store.
const MaxEmailLength = 320

var (
	ErrContactRequired = errors.New("contact_required")
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrInvalidPhone    = errors.New("invalid_phone")

	emailExpression = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	phoneExpression = regexp.MustCompile(`^[+]?[0-9\s()-]{8,15}$`)
)

// Requirement selects whether at least one contact field must be present.
type Requirement int

const (
	ContactRequired Requirement = iota
	ContactOptional
)

// Result is the outcome of a validation; Reason is one of the package errors when OK is false.
type Result struct {
	OK     bool
	Reason error
}

// Validate applies the required-contact rule.
func Validate(email string, phone string) Result {
	return ValidateWith(ContactRequired, email, phone)
}

// ValidateWith checks contact fields under the given requirement. Present fields are always
// format-checked.
func ValidateWith(requirement Requirement, email string, phone string) Result {
	trimmedEmail := strings.TrimSpace(email)
	trimmedPhone := strings.TrimSpace(phone)

	if trimmedEmail == "" && trimmedPhone == "" {
		if requirement == ContactRequired {
			return Result{Reason: ErrContactRequired}
		}
		return Result{OK: true}
	}
	if len(trimmedEmail) > MaxEmailLength {
		return Result{Reason: ErrInvalidEmail}
	}
	if trimmedEmail != "" && !emailExpression.MatchString(trimmedEmail) {
		return Result{Reason: ErrInvalidEmail}
	}
	if trimmedPhone != "" && !phoneExpression.MatchString(trimmedPhone) {
		return Result{Reason: ErrInvalidPhone}
	}
	return Result{OK: true}
}
