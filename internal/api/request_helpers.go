package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/api/shared"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/platform/logger"
)

// getPathUUID extracts a UUID from the URL path parameters.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrValidation, paramName)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", domain.ErrInvalidID, paramName)
	}
	return id, nil
}

// handlePathUUID extracts the {id} path parameter. It writes an error
// response and returns false when the parameter is missing or malformed.
func handlePathUUID(w http.ResponseWriter, r *http.Request, log *slog.Logger) (uuid.UUID, bool) {
	if log == nil {
		log = logger.FromContextOrDefault(r.Context(), slog.Default())
	}

	id, err := getPathUUID(r, "id")
	if err != nil {
		log.Warn("invalid id", slog.String("value", chi.URLParam(r, "id")))
		HandleAPIError(w, r, err, "")
		return uuid.Nil, false
	}
	return id, true
}

// decodeAndValidate decodes the JSON body into v and runs struct
// validation. An empty body is accepted when allowEmpty is set.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	if err := shared.DecodeJSON(r, v); err != nil {
		if !(allowEmpty && errors.Is(err, shared.ErrEmptyBody)) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return false
		}
	}
	if err := shared.ValidateRequest(v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}

// parseQuestionFilter reads type, difficulty, min_score, limit and offset
// from the query string.
func parseQuestionFilter(r *http.Request) (domain.QuestionFilter, error) {
	q := r.URL.Query()
	f := domain.QuestionFilter{
		Type:       domain.QuestionType(q.Get("type")),
		Difficulty: domain.Difficulty(q.Get("difficulty")),
	}

	if v := q.Get("min_score"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			return f, fmt.Errorf("%w: min_score must be an integer in 0..100", domain.ErrValidation)
		}
		f.MinScore = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrValidation)
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%w: offset must be a non-negative integer", domain.ErrValidation)
		}
		f.Offset = n
	}
	return f, nil
}

// parseReplayPosition reads where a stream should resume: the
// Last-Event-ID header or ?after= carry a sequence, ?since= an RFC 3339
// timestamp.
func parseReplayPosition(r *http.Request) (after int64, since time.Time, err error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw != "" {
		after, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			return 0, time.Time{}, fmt.Errorf("%w: event id must be a non-negative integer", domain.ErrValidation)
		}
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err = time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: since must be an RFC 3339 timestamp", domain.ErrValidation)
		}
	}
	return after, since, nil
}

// parseEventTypes reads the comma separated ?types= filter.
func parseEventTypes(r *http.Request) []domain.EventType {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	var types []domain.EventType
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, domain.EventType(t))
		}
	}
	return types
}
