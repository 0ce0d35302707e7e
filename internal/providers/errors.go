package providers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// APIError is a provider-side failure. Callers branch on IsQuota to
// decide whether credential rotation makes sense; everything else is
// left to the queue's retry policy.
type APIError struct {
	Provider   string
	StatusCode int
	Status     string // provider status string, e.g. "RESOURCE_EXHAUSTED"
	Message    string
	RetryAfter time.Duration // from the Retry-After header, 0 if absent
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Provider, e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsQuota reports whether the failure is a quota or permission signal,
// the class that warrants rotating to the next credential.
func (e *APIError) IsQuota() bool {
	if e.StatusCode == 429 || e.StatusCode == 403 {
		return true
	}
	switch e.Status {
	case "RESOURCE_EXHAUSTED", "PERMISSION_DENIED":
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "quota") || strings.Contains(msg, "resource has been exhausted")
}

// IsQuotaError reports whether err wraps a quota/permission APIError.
func IsQuotaError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsQuota()
}

// ParseRetryAfter parses a Retry-After header value (delta-seconds only;
// HTTP dates are rare from these APIs and not worth the dependency).
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
