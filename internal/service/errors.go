package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/questgen/internal/store"
)

// Service errors. The API layer maps each of them to a status code.
var (
	// ErrDocumentNotFound indicates the document does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentExists indicates a document with the same id was already
	// ingested.
	ErrDocumentExists = errors.New("document already exists")

	// ErrPlanNotFound indicates the plan does not exist.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("invalid input")
)

// ServiceError wraps an unexpected failure of a service operation.
type ServiceError struct {
	// Operation is the operation that failed, e.g. "ingest_document".
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("generation service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err for operation. Store not-found errors become the
// matching service sentinel; everything else keeps its chain so callers can
// still test for orchestrator and planner sentinels.
func NewServiceError(operation, message string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, store.ErrDocumentNotFound):
		return ErrDocumentNotFound
	case errors.Is(err, ErrPlanNotFound), errors.Is(err, store.ErrPlanNotFound):
		return ErrPlanNotFound
	}
	return &ServiceError{Operation: operation, Message: message, Err: err}
}
