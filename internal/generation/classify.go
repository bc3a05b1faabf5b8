package generation

import (
	"context"
	"errors"

	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/store"
)

// Classify maps an error from any pipeline stage to the failure kind that
// decides its recovery path. Unknown errors are treated as transient.
func Classify(err error) domain.FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return domain.FailureCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTimeout
	case errors.Is(err, ErrTransientFailure):
		return domain.FailureTransient
	case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrContentBlocked):
		return domain.FailureMalformed
	case errors.Is(err, ErrInvalidConfig),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrInternal),
		errors.Is(err, store.ErrInvalidEntity):
		return domain.FailureFatal
	}
	return domain.FailureTransient
}

// IsTransient reports whether err is worth retrying after a delay.
func IsTransient(err error) bool {
	k := Classify(err)
	return k == domain.FailureTransient || k == domain.FailureTimeout
}
