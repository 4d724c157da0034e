// Package apperr defines the error taxonomy shared by every component:
// validation, not-found, conflict, auth, and unexpected errors, each
// carrying the HTTP status the API layer maps it to in one place instead
// of re-deriving it per handler.
package apperr

import "fmt"

// Kind classifies an Error for the HTTP layer and for callers that need to
// branch on error category without string-matching messages.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindAuth       Kind = "auth"
	KindIntegrity  Kind = "integrity"
	KindUnexpected Kind = "unexpected"
)

// Error is a business error carrying a stable Code string (used by API
// clients to branch) and a human Message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps a Kind to its status code per SPEC_FULL.md §7.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 400 // the API layer overrides to 403 for ACTIVE_SESSION_EXISTS
	case KindAuth:
		return 401
	case KindIntegrity, KindUnexpected:
		return 500
	default:
		return 500
	}
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validation builds a 400-class error.
func Validation(code, message string) *Error { return New(KindValidation, code, message) }

// NotFound builds a 404-class error.
func NotFound(code, message string) *Error { return New(KindNotFound, code, message) }

// Conflict builds a business-state conflict error (round not active,
// already claimed, duplicate registration, …), mapped to 400 by default.
// The API layer overrides to 403 for the active-session-exists Code,
// matching SPEC_FULL.md §7's 400/401/403/404/500 status set.
func Conflict(code, message string) *Error { return New(KindConflict, code, message) }

// Auth builds a 401-class error.
func Auth(code, message string) *Error { return New(KindAuth, code, message) }

// Integrity builds a 500-class, fail-closed error for situations where a
// precondition the system depends on (e.g. "revoke existing sessions")
// could not be satisfied.
func Integrity(code, message string, err error) *Error {
	return Wrap(KindIntegrity, code, message, err)
}

// Unexpected wraps an unanticipated error for the top-level handler
// middleware to log and mask.
func Unexpected(err error) *Error {
	return Wrap(KindUnexpected, "internal_error", "an unexpected error occurred", err)
}

// Stable error codes referenced directly by SPEC_FULL.md.
const (
	CodeActiveSessionExists = "ACTIVE_SESSION_EXISTS"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeSessionExpired      = "SESSION_EXPIRED"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeRoundClosed         = "ROUND_CLOSED"
	CodeRoundNotFound       = "ROUND_NOT_FOUND"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeAlreadyClaimed      = "ALREADY_CLAIMED"
	CodeRoundSettled        = "ROUND_SETTLED"
	CodeNotOwner            = "NOT_OWNER"
	CodeDuplicateRequest    = "DUPLICATE_REQUEST"
	CodeInvalidBet          = "INVALID_BET"
	CodeOverLimit           = "OVER_LIMIT"
	CodeUserInactive        = "USER_INACTIVE"
	CodeNotWon              = "NOT_WON"
	CodeNotSettled          = "NOT_SETTLED"
)
