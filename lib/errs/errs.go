// Package errs provides coded domain errors shared by the engines and the
// HTTP layer. The code is the machine-readable contract with clients.
package errs

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInternal   Code = "INTERNAL"
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeForbidden  Code = "FORBIDDEN"
	CodeConflict   Code = "CONFLICT"

	// Invitation errors
	CodeDuplicateActiveInvitation Code = "DUPLICATE_ACTIVE_INVITATION"
	CodeInvitationExpired         Code = "INVITATION_EXPIRED"
	CodeInvitationAlreadyAccepted Code = "INVITATION_ALREADY_ACCEPTED"
	CodeInvitationAlreadyDeclined Code = "INVITATION_ALREADY_DECLINED"
	CodeInvitationProcessed       Code = "INVITATION_ALREADY_PROCESSED"
	CodeInvitationCancelled       Code = "INVITATION_CANCELLED"
	CodeRetryLimitExceeded        Code = "RETRY_LIMIT_EXCEEDED"

	// Approval errors
	CodeBudgetExceeded       Code = "BUDGET_EXCEEDED"
	CodeRequestNotPending    Code = "REQUEST_NOT_PENDING"
	CodeRequestExpired       Code = "REQUEST_EXPIRED"
	CodeRelationshipMismatch Code = "RELATIONSHIP_MISMATCH"
)

// HTTPStatus maps domain codes to response status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Error is the domain error type.
type Error struct {
	Code    Code     // Machine-readable error code
	Message string   // Human-readable message, safe to show to clients
	Details []string // Optional list of violations or reasons
	Cause   error    // Wrapped underlying error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WithDetails(code Code, message string, details []string) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the code of a domain error, or CodeInternal for anything else.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}
