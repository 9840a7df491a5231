package domain

import "errors"

// Error classes. Every sentinel below unwraps to exactly one of them.
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalid          = errors.New("invalid request")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

type classifiedError struct {
	msg   string
	class error
}

func (e *classifiedError) Error() string { return e.msg }
func (e *classifiedError) Unwrap() error { return e.class }

func notFound(msg string) error { return &classifiedError{msg: msg, class: ErrNotFound} }
func forbidden(msg string) error { return &classifiedError{msg: msg, class: ErrPermissionDenied} }
func invalid(msg string) error { return &classifiedError{msg: msg, class: ErrInvalid} }

// Not found.
var (
	ErrMessageNotFound = notFound("message not found")
	ErrGroupNotFound   = notFound("group not found")
	ErrUserNotFound    = notFound("user not found")
	ErrMemberNotFound  = notFound("user is not a member of this group")
	ErrNotBlocked      = notFound("user is not blocked")
)

// Permission denied.
var (
	ErrNotGroupAdmin     = forbidden("only the group admin can do this")
	ErrNotGroupMember    = forbidden("not a member of this group")
	ErrBlocked           = forbidden("messaging is blocked between these users")
	ErrMessagingDisabled = forbidden("user does not accept messages")
	ErrNotRecipient      = forbidden("only the recipient can acknowledge this message")
	ErrIdentityMismatch  = forbidden("payload identity does not match the connection")
)

// Invalid input.
var (
	ErrSelfMessage      = invalid("cannot send a message to yourself")
	ErrEmptyMessage     = invalid("message must have text, image or file")
	ErrAlreadyMember    = invalid("user is already a member of this group")
	ErrAdminSelfRemoval = invalid("admin cannot remove themselves, leave the group instead")
	ErrAdminNotMember   = invalid("admin must be a member of the group")
	ErrSelfBlock        = invalid("cannot block yourself")
	ErrAlreadyBlocked   = invalid("user is already blocked")
	ErrEmptyQuery       = invalid("search query is required")
	ErrInvalidPayload   = invalid("invalid event payload")
	ErrEmptyGroupName   = invalid("group name is required")
	ErrMessageTooLong   = invalid("message text cannot exceed 1000 characters")
	ErrQueryTooLong     = invalid("search query must be at most 100 characters")
)

// ErrGroupConflict reports that a group changed between read and write. It is
// unclassified, so callers see a retryable internal error.
var ErrGroupConflict = errors.New("group was modified concurrently")

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsPermissionDenied(err error) bool { return errors.Is(err, ErrPermissionDenied) }
func IsInvalid(err error) bool { return errors.Is(err, ErrInvalid) }

// Error codes sent to clients.
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// ErrorCode maps an error to its client-facing code. Anything unclassified
// is an internal error the caller may retry.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsNotFound(err):
		return ErrCodeNotFound
	case IsPermissionDenied(err):
		return ErrCodeForbidden
	case IsInvalid(err):
		return ErrCodeBadRequest
	case errors.Is(err, ErrRateLimited):
		return ErrCodeRateLimited
	default:
		return ErrCodeInternalError
	}
}
