package reliability

import (
	"errors"

	"github.com/mlodato/sqlsteward/internal/memory"
)

// IsRetryable classifies whether a caller may usefully retry the same
// request. Only store unavailability qualifies: generation and execution
// failures need a changed request, and a rejected token needs a fresh one.
func IsRetryable(err error) bool {
	return errors.Is(err, memory.ErrUnavailable)
}

// IsRetryableHTTPStatus classifies retryable upstream HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
