// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the chat-completions client for the hosted provider.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("API key not configured")

	// ErrProvider matches any non-2xx response.
	ErrProvider = errors.New("provider error")

	// ErrAuthFailed matches 401 and 403 responses.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited matches 429 responses.
	ErrRateLimited = errors.New("rate limited")

	// ErrBadResponse matches 2xx responses without a completion.
	ErrBadResponse = errors.New("unexpected API response format")

	// ErrNetwork matches transport failures.
	ErrNetwork = errors.New("network error")
)

// =============================================================================
// TYPED ERRORS
// =============================================================================

// ConfigError reports a client that cannot make requests. No network call
// is attempted when it is returned.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// Is implements errors.Is support.
func (e *ConfigError) Is(target error) bool { return target == ErrNotConfigured }

// ProviderError is a non-2xx response from the completion endpoint.
type ProviderError struct {
	Status  int
	Code    string
	Type    string
	Message string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
}

// Is implements errors.Is support for the status classes.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrProvider:
		return true
	case ErrAuthFailed:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// FormatError is a 2xx response that does not carry a completion.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected API response format: %s: %v", e.Reason, e.Err)
	}
	return "unexpected API response format: " + e.Reason
}

func (e *FormatError) Unwrap() error        { return e.Err }
func (e *FormatError) Is(target error) bool { return target == ErrBadResponse }

// NetworkError is a failure to reach the endpoint or read its response,
// including cancellation of the caller's context.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error        { return e.Err }
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// =============================================================================
// USER-FACING MESSAGES
// =============================================================================

// UserMessage renders err as the text stored in a failed reply. Missing
// configuration is shown as is; everything else is prefixed so the reader
// knows the reply failed.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Message
	}
	return "Failed to get AI response: " + detail(err)
}

func detail(err error) string {
	var provErr *ProviderError
	var fmtErr *FormatError
	var netErr *NetworkError

	switch {
	case errors.As(err, &provErr):
		return provErr.Message
	case errors.As(err, &fmtErr):
		return "Unexpected API response format"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.As(err, &netErr):
		return netErr.Err.Error()
	default:
		return err.Error()
	}
}
