package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorReason categorizes provider failures for retry and failover
// decisions.
type ErrorReason string

const (
	ReasonRateLimited ErrorReason = "rate_limited"
	ReasonServer      ErrorReason = "server_error"
	ReasonTimeout     ErrorReason = "timeout"
	ReasonAuth        ErrorReason = "auth"
	ReasonBadRequest  ErrorReason = "bad_request"
	ReasonUnknown     ErrorReason = "unknown"
)

// Retryable reports whether the same provider is worth retrying.
func (r ErrorReason) Retryable() bool {
	switch r {
	case ReasonRateLimited, ReasonServer, ReasonTimeout:
		return true
	default:
		return false
	}
}

// FailoverEligible reports whether a different provider might succeed.
// Bad requests fail everywhere; auth failures are provider-specific, so a
// fallback with its own credentials may still serve.
func (r ErrorReason) FailoverEligible() bool {
	switch r {
	case ReasonRateLimited, ReasonServer, ReasonTimeout, ReasonAuth:
		return true
	default:
		return false
	}
}

// ProviderError wraps a provider failure with its classification.
type ProviderError struct {
	Provider string
	Model    string
	Reason   ErrorReason
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s [%s status=%d]: %s", e.Provider, e.Reason, e.Status, msg)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Provider, e.Reason, msg)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError wraps and classifies a raw provider error.
func NewProviderError(provider, modelID string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{
		Provider: provider,
		Model:    modelID,
		Reason:   classify(err),
		Cause:    err,
	}
}

// WithStatus records the HTTP status and refines the classification.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	switch {
	case status == 429:
		e.Reason = ReasonRateLimited
	case status == 401 || status == 403:
		e.Reason = ReasonAuth
	case status == 408 || status == 504:
		e.Reason = ReasonTimeout
	case status >= 500:
		e.Reason = ReasonServer
	case status >= 400:
		e.Reason = ReasonBadRequest
	}
	return e
}

// Reason extracts the failure classification from an error chain.
func Reason(err error) ErrorReason {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return classify(err)
}

func classify(err error) ErrorReason {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429"):
		return ReasonRateLimited
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "401") ||
		strings.Contains(msg, "403"):
		return ReasonAuth
	case strings.Contains(msg, "internal server") ||
		strings.Contains(msg, "server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503"):
		return ReasonServer
	case strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "bad request") ||
		strings.Contains(msg, "400"):
		return ReasonBadRequest
	default:
		return ReasonUnknown
	}
}
