package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error codes attached to ProviderError.
const (
	CodeMissingAPIKey = "missing_api_key"
	CodeTimeout       = "timeout"
	CodeBadResponse   = "bad_response"
)

// ProviderError carries the provider's HTTP status and an error code where
// one is available, so the orchestrator can classify failures for fallback
// and retry decisions.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsTimeout reports whether err is a deadline expiry, a transport-level
// timeout, or a provider-reported timeout code.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == CodeTimeout
}

// IsServerError reports whether the provider returned a 5xx status.
func IsServerError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode >= 500
}

// IsRateLimited reports whether the provider returned HTTP 429.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode == 429
}

// IsMissingCredentials reports a provider whose API key was never configured.
func IsMissingCredentials(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == CodeMissingAPIKey
}
