// Package connector executes calls against external provider APIs with
// failure classification, retry and circuit breaking. Connector health
// rows are mutated only here.
package connector

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies a provider failure. Only rate_limit failures are
// retried; auth failures require operator re-authentication.
type Category string

const (
	CategoryAuth       Category = "auth"
	CategoryRateLimit  Category = "rate_limit"
	CategoryValidation Category = "validation"
	CategoryNetwork    Category = "network"
	CategoryUnknown    Category = "unknown"
)

// MapProviderStatus maps an HTTP status code to a failure category.
func MapProviderStatus(status int) Category {
	switch {
	case status == 401 || status == 403:
		return CategoryAuth
	case status == 429:
		return CategoryRateLimit
	case status >= 400 && status < 500:
		return CategoryValidation
	case status >= 500 && status < 600:
		return CategoryNetwork
	default:
		return CategoryUnknown
	}
}

// ProviderError is a classified failure from an external provider call.
type ProviderError struct {
	Provider      string
	AccountRef    string
	Category      Category
	HTTPStatus    int
	ProviderCode  string
	Message       string
	RetryAfter    *time.Time
	MissingScopes []string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Category)
}

const (
	redactedMessage = "redacted-sensitive-error"
	maxErrorLen     = 500
)

var sensitiveMarkers = []string{"token", "authorization", "bearer"}

// Redact sanitizes a provider error message before it is persisted or
// logged. Messages that may carry credentials are replaced wholesale;
// everything else is capped.
func Redact(msg string) string {
	lower := strings.ToLower(msg)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return redactedMessage
		}
	}
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
