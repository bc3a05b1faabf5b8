package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/questgen/internal/generation"
	"google.golang.org/genai"
)

// mapError converts a genai error into the generation sentinel that
// decides its recovery path.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code, ok := apiErrorCode(err)
	if !ok {
		return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusNotFound:
		return fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
	default:
		return fmt.Errorf("%w: %v", generation.ErrInvalidResponse, err)
	}
}

func apiErrorCode(err error) (int, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v.Code, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code, true
	}
	return 0, false
}

// extractJSON strips a markdown code fence the model sometimes wraps
// around JSON output.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
