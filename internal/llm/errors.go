package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JaneYeo/llm-lens/internal/logging"
)

// ErrNotConfigured is returned when no usable provider could be built.
var ErrNotConfigured = errors.New("no LLM provider configured")

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("empty response from provider")

// APIError is a non-200 answer from a provider API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.StatusCode, logging.Truncate(e.Body, 300))
}

// IsRateLimit reports whether err is a quota or rate-limit rejection that
// is worth retrying after a wait.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota")
}
