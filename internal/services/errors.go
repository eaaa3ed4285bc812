package services

import (
	"errors"
	"sort"
	"strings"

	"github.com/vcmarket/apiserver/internal/metrics"
	"github.com/vcmarket/apiserver/internal/upload"
)

var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrMuted             = errors.New("actor is muted")
	ErrSelfRating        = errors.New("cannot rate own item")
	ErrItemNotFound      = errors.New("item not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrDuplicateCategory = errors.New("category already exists")
	ErrCategoryNotFound  = errors.New("category not found")
	ErrNotConfirmed      = errors.New("confirmation required")
)

// ValidationError collects per-field input problems. Fields maps the wire
// field name to the message shown next to it.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "invalid " + strings.Join(names, ", ")
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Message returns the short toast text for err.
func Message(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		if len(ve.Fields) == 1 {
			for _, msg := range ve.Fields {
				return msg
			}
		}
		return "Please fix the highlighted fields."
	case errors.Is(err, ErrNotAuthenticated):
		return "Please log in."
	case errors.Is(err, ErrPermissionDenied):
		return "Permission denied."
	case errors.Is(err, ErrMuted):
		return "You are muted."
	case errors.Is(err, ErrSelfRating):
		return "You cannot rate your own creation."
	case errors.Is(err, ErrItemNotFound):
		return "Item not found."
	case errors.Is(err, ErrUserNotFound):
		return "User not found."
	case errors.Is(err, ErrDuplicateCategory):
		return "Category already exists."
	case errors.Is(err, ErrCategoryNotFound):
		return "Category not found."
	case errors.Is(err, ErrNotConfirmed):
		return "Please confirm this action."
	case IsUploadError(err):
		return upload.Message(err, upload.FormImageLimit)
	default:
		return "Something went wrong."
	}
}

// IsUploadError reports whether err came from image validation or the image
// host.
func IsUploadError(err error) bool {
	var he *upload.HostError
	return errors.Is(err, upload.ErrTooLarge) ||
		errors.Is(err, upload.ErrEmpty) ||
		errors.Is(err, upload.ErrNotImage) ||
		errors.Is(err, upload.ErrTooMany) ||
		errors.Is(err, upload.ErrNoURL) ||
		errors.Is(err, upload.ErrSuperseded) ||
		errors.As(err, &he)
}

// outcome maps a mutation result to its metrics label.
func outcome(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &ve), errors.Is(err, ErrNotConfirmed), errors.Is(err, ErrDuplicateCategory):
		return metrics.OutcomeInvalid
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrMuted), errors.Is(err, ErrSelfRating):
		return metrics.OutcomeDenied
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrUserNotFound), errors.Is(err, ErrCategoryNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeFailed
	}
}

func record(op string, err error) error {
	metrics.RecordMutation(op, outcome(err))
	return err
}
