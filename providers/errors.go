// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies provider failures so callers can decide whether to retry.
type ErrorKind int

const (
	// Unknown covers failures without a more specific classification, including server errors.
	Unknown ErrorKind = iota
	// Timeout means the invocation exceeded its deadline.
	Timeout
	// RateLimited means the backend rejected the request because of rate limits.
	RateLimited
	// AuthFailure means the credentials were rejected.
	AuthFailure
	// MalformedRequest means the backend rejected the request as invalid or unsupported.
	MalformedRequest
)

func (k ErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case RateLimited:
		return "rate limited"
	case AuthFailure:
		return "authentication failure"
	case MalformedRequest:
		return "malformed request"
	default:
		return "unknown error"
	}
}

// ProviderError is a classified failure of a provider invocation.
type ProviderError struct {
	// Kind is the failure classification.
	Kind ErrorKind
	// StatusCode is the HTTP status returned by the backend, or 0 if none was received.
	StatusCode int
	// Cause is the underlying error.
	Cause error
}

// NewProviderError creates a new ProviderError instance.
func NewProviderError(kind ErrorKind, statusCode int, cause error) *ProviderError {
	return &ProviderError{Kind: kind, StatusCode: statusCode, Cause: cause}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is makes transient errors match ErrRetryable.
func (e *ProviderError) Is(target error) bool {
	return target == ErrRetryable && e.IsTransient()
}

// IsTransient reports whether the failure may go away on its own.
// Timeouts, rate limits, server errors and network failures are transient.
func (e *ProviderError) IsTransient() bool {
	switch e.Kind {
	case Timeout, RateLimited:
		return true
	case Unknown:
		return e.StatusCode == 0 || e.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// KindOf returns the classification of err, or Unknown if it is not a ProviderError.
func KindOf(err error) ErrorKind {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Kind
	}
	return Unknown
}

// kindFromStatus maps an HTTP status code to an error kind.
func kindFromStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return Timeout
	case statusCode == http.StatusTooManyRequests:
		return RateLimited
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return AuthFailure
	case statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError:
		return MalformedRequest
	default:
		return Unknown
	}
}

// classifyError converts an invocation error into a ProviderError. The statusOf
// function extracts the HTTP status from SDK specific error types; it returns 0 when unknown.
func classifyError(err error, statusOf func(error) int) error {
	if err == nil {
		return nil
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(Timeout, 0, err)
	case errors.Is(err, ErrFeatureNotSupported), errors.Is(err, ErrCreatePromptRequest):
		return NewProviderError(MalformedRequest, 0, err)
	case errors.Is(err, ErrDownloadImage) && kindFromStatus(statusFromError(err)) == MalformedRequest:
		// The image host rejected the URL; retrying will not help.
		return NewProviderError(MalformedRequest, 0, err)
	case errors.Is(err, ErrEmptyResponse), errors.Is(err, ErrUnexpectedPixelOutput):
		// The backend answered, just not usefully.
		return NewProviderError(Unknown, http.StatusOK, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewProviderError(Timeout, 0, err)
	}

	statusCode := 0
	if statusOf != nil {
		statusCode = statusOf(err)
	}
	return NewProviderError(kindFromStatus(statusCode), statusCode, err)
}

// statusFromError extracts the status code from errors implementing HTTPStatusCode, as AWS SDK errors do.
func statusFromError(err error) int {
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatusCode()
	}
	return 0
}
