package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/examprep/examprep-cli/internal/resilience"
	"github.com/examprep/examprep-cli/pkg/anthropic"
	"github.com/examprep/examprep-cli/pkg/perplexity"
)

// Category is the user-facing class of a provider failure.
type Category string

const (
	CategoryConfig    Category = "config"
	CategoryRateLimit Category = "rate_limit"
	CategoryQuota     Category = "quota"
	CategoryInput     Category = "input"
	CategoryUpstream  Category = "upstream"
)

// UserMessage returns the guidance shown to the user for the category.
func (c Category) UserMessage() string {
	switch c {
	case CategoryConfig:
		return "The analysis service is not configured correctly. Check the provider API keys and try again."
	case CategoryRateLimit:
		return "The AI provider is rate limiting requests. Wait a minute and try again."
	case CategoryQuota:
		return "The AI provider account has run out of credits. Top up billing or try again later."
	case CategoryInput:
		return "The syllabus image could not be read. Upload a clearer JPEG or PNG photo under 10 MB."
	default:
		return "The AI provider returned an error. Please try again shortly."
	}
}

// Provider names.
const (
	ProviderAnthropic  = "anthropic"
	ProviderPerplexity = "perplexity"
)

// Error is a classified provider failure.
type Error struct {
	Category   Category
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway: %s %s error (status %d): %v", e.Provider, e.Category, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway: %s %s error: %v", e.Provider, e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *Error) Retryable() bool {
	switch e.Category {
	case CategoryRateLimit:
		return true
	case CategoryUpstream:
		return e.StatusCode == 0 || resilience.RetryableStatus(e.StatusCode)
	default:
		return false
	}
}

// ErrMissingCredentials is wrapped in config errors for providers with no key.
var ErrMissingCredentials = errors.New("missing API key")

// CategoryOf returns the category of a gateway error in err's chain, or ""
// when err did not come from the gateway.
func CategoryOf(err error) Category {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Category
	}
	return ""
}

// IsFatal reports whether err must abort a run rather than degrade it.
func IsFatal(err error) bool {
	return CategoryOf(err) == CategoryConfig
}

// Retryable reports whether a per-unit attempt that failed with err should be
// retried. Errors from outside the gateway, such as unparseable or rejected
// model output, are retried.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Retryable()
	}
	return true
}

var quotaPhrases = []string{"credit balance", "billing", "quota", "insufficient credits", "payment required"}

// statusOf extracts the HTTP status and error body of a provider error.
func statusOf(err error) (int, string) {
	var perr *perplexity.APIError
	if errors.As(err, &perr) {
		return perr.StatusCode, perr.Body
	}
	return anthropic.StatusCode(err), err.Error()
}

// classify maps a raw provider error onto the taxonomy. vision widens the
// input category to the request-shape statuses a bad image produces.
func classify(provider string, vision bool, err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	status, body := statusOf(err)
	lower := strings.ToLower(body)

	cat := CategoryUpstream
	switch {
	case status == 401 || status == 403:
		cat = CategoryConfig
	case status == 402:
		cat = CategoryQuota
	case status == 429:
		cat = CategoryRateLimit
	case status >= 400 && status < 500 && containsAny(lower, quotaPhrases):
		cat = CategoryQuota
	case vision && (status == 400 || status == 413 || status == 415):
		cat = CategoryInput
	}
	return &Error{Category: cat, Provider: provider, StatusCode: status, Err: err}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// tripsBreaker decides which failures count toward opening a circuit.
// Caller-side failures and abandoned streams do not.
func tripsBreaker(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, errConsumerGone) {
		return false
	}
	status, _ := statusOf(err)
	return status == 0 || status == 429 || status >= 500
}
