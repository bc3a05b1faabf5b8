package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/questgen/internal/api/shared"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/orchestrator"
	"github.com/phrazzld/questgen/internal/planner"
	"github.com/phrazzld/questgen/internal/service"
	"github.com/phrazzld/questgen/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, service.ErrDocumentNotFound),
		errors.Is(err, service.ErrPlanNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, service.ErrDocumentExists),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, orchestrator.ErrPlanNotReady),
		errors.Is(err, orchestrator.ErrPlanTerminal),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict

	// Unprocessable: well-formed request against a document that cannot
	// be planned
	case errors.Is(err, planner.ErrDocumentNotReady),
		errors.Is(err, planner.ErrNoChunks):
		return http.StatusUnprocessableEntity

	// Bad request errors
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, planner.ErrInvalidRequest),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidQuestionType),
		errors.Is(err, domain.ErrInvalidDifficulty),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, service.ErrDocumentNotFound),
		errors.Is(err, store.ErrDocumentNotFound):
		return "Document not found"

	case errors.Is(err, service.ErrPlanNotFound),
		errors.Is(err, store.ErrPlanNotFound):
		return "Plan not found"

	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, service.ErrDocumentExists):
		return "Document already exists"

	case errors.Is(err, orchestrator.ErrPlanNotReady):
		return "Plan is not ready for generation"

	case errors.Is(err, orchestrator.ErrPlanTerminal):
		return "Plan has already finished"

	case errors.Is(err, domain.ErrInvalidTransition):
		return "Operation not allowed in the current state"

	case errors.Is(err, planner.ErrDocumentNotReady):
		return "Document is not ready for planning"

	case errors.Is(err, planner.ErrNoChunks):
		return "Document has no content to plan from"

	case errors.Is(err, domain.ErrInvalidQuestionType):
		return "Invalid question type"

	case errors.Is(err, domain.ErrInvalidDifficulty):
		return "Invalid difficulty"

	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID"

	case errors.Is(err, planner.ErrInvalidRequest):
		return "Invalid plan request"

	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes a sanitized error response for err and logs the
// redacted details. A non-empty message overrides the safe message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	var opts []shared.ResponseOption
	if status == http.StatusConflict {
		// state races with workers are worth seeing in production logs
		opts = append(opts, shared.WithElevatedLogLevel())
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Example format: "Key: 'CreatePlanRequest.Total' Error:Field validation for 'Total' failed on the 'gt' tag"
	if strings.Contains(errMsg, "Field validation") {
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gt", "gte":
		return "too small"
	case "max", "lt", "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	case "uuid":
		return "invalid UUID"
	default:
		return "validation failed"
	}
}
