package providers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/primehq/prime/internal/agent"
)

// isRetryable classifies an error as transient. Rate limits, server
// errors, timeouts, and connection failures are worth retrying; auth
// and validation failures are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var perr *agent.ProviderError
	if errors.As(err, &perr) && perr.StatusCode > 0 {
		switch perr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate_limit",
		"too many requests",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"no such host",
		"service unavailable",
		"bad gateway",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
