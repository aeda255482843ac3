package service

import (
	"github.com/cockroachdb/errors"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/ratecache"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Error classes surfaced to callers. Match with errors.Is from github.com/cockroachdb/errors.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("not authorized")
	ErrConflict     = errors.New("concurrent modification")
	ErrNotFound     = errors.New("not found")
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

func validationf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func unauthorizedf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrUnauthorized)
}

// classify wraps err with msg and marks it with the matching error class
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, msg)

	switch {
	case errors.Is(err, port.ErrNotFound):
		return errors.Mark(wrapped, ErrNotFound)
	case errors.Is(err, port.ErrVersionConflict):
		return errors.Mark(wrapped, ErrConflict)
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrGuardFailed),
		errors.Is(err, workflow.ErrInvalidState),
		errors.Is(err, approval.ErrInvalidPolicy),
		errors.Is(err, ratecache.ErrInvalidCurrency):
		return errors.Mark(wrapped, ErrValidation)
	}
	return wrapped
}
