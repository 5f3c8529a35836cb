package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/nmxmxh/reviewqueue/pkg/logger"
	"go.uber.org/zap"
)

// Request-layer errors shared by the HTTP surface.
var (
	// ErrNotLoggedIn is returned when a route requires an authenticated viewer.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrInvalidAccess is returned when the viewer may not perform the request.
	ErrInvalidAccess = errors.New("invalid access")
	// ErrInvalidParameter is returned when a request parameter cannot be parsed.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrMissingVersion is returned when a mutation omits the expected version.
	ErrMissingVersion = errors.New("missing version")
)

// New creates a new error with the given message.
func New(msg string) error {
	return errors.New(msg)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with additional context, keeping it matchable with Is.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// LogWithError logs the error with context and returns a wrapped error. Use this for standardized error logging across services.
func LogWithError(ctx context.Context, log *zap.Logger, msg string, err error, fields ...zap.Field) error {
	if log != nil {
		if ctx != nil {
			if reqID := logger.RequestID(ctx); reqID != "" {
				fields = append(fields, zap.String("request_id", reqID))
			}
		}
		log.Error(msg, append(fields, zap.Error(err))...)
	}
	return Wrap(err, msg)
}
