package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrEmptyContent is returned when required content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidTransition is returned when a state machine is asked to move
	// between two states that are not connected.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidQuestionType is returned for an unknown question type.
	ErrInvalidQuestionType = errors.New("invalid question type")

	// ErrInvalidDifficulty is returned for an unknown difficulty.
	ErrInvalidDifficulty = errors.New("invalid difficulty")

	// ErrInvalidPayload is returned when a job payload does not match its
	// type discriminant or its typed spec is malformed.
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrConservation is returned when a plan distribution does not add up
	// to the requested total.
	ErrConservation = errors.New("distribution does not match requested total")

	// ErrMissingCitation is returned when a question cites no chunk.
	ErrMissingCitation = errors.New("question must cite at least one chunk")
)
