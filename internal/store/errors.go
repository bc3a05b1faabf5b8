package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., a second question for the same task).
	ErrDuplicate = errors.New("entity already exists")

	// ErrConflict is returned by compare-and-set updates when the stored
	// status no longer matches the expected one.
	ErrConflict = errors.New("concurrent modification")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransactionFailed is returned when a transaction cannot begin or
	// commit. Errors from the work inside it are returned unchanged.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrInternal is returned for unexpected storage failures.
	ErrInternal = errors.New("internal store error")

	// Entity-specific "not found" errors

	ErrDocumentNotFound = fmt.Errorf("%w: document", ErrNotFound)
	ErrPlanNotFound     = fmt.Errorf("%w: plan", ErrNotFound)
	ErrJobNotFound      = fmt.Errorf("%w: job", ErrNotFound)
	ErrTaskNotFound     = fmt.Errorf("%w: task", ErrNotFound)
	ErrQuestionNotFound = fmt.Errorf("%w: question", ErrNotFound)

	// ErrQuestionExists indicates a question was already stored for the task.
	ErrQuestionExists = fmt.Errorf("%w: question for task", ErrDuplicate)
)

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsConflictError reports whether err is a failed compare-and-set.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}
