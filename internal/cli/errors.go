// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types and exit codes for chatterm commands.
//
// Commands always return errors; main decides how to display them and
// which exit code to use.

package cli

import (
	"errors"
	"fmt"

	"github.com/jeranaias/chatterm/internal/cloud"
	"github.com/jeranaias/chatterm/internal/config"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates a configuration file or settings error
	ExitConfigError = 3
	// ExitReplyError indicates the provider did not produce a reply
	ExitReplyError = 4
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError represents invalid command-line input.
type UsageError struct {
	Reason  string // Why the input was rejected
	Example string // Example of valid usage (optional)
}

func (e *UsageError) Error() string {
	if e.Example != "" {
		return fmt.Sprintf("%s\nExample: %s", e.Reason, e.Example)
	}
	return e.Reason
}

// ReplyError is returned by one-shot commands when the reply was recorded
// as a failure.
type ReplyError struct {
	Message string // Text of the failed reply record
}

func (e *ReplyError) Error() string {
	return e.Message
}

// ErrMissingArgument creates an error for missing required arguments.
func ErrMissingArgument(argName, usage string) error {
	return &UsageError{
		Reason:  "missing " + argName,
		Example: usage,
	}
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}

	var validateErrs config.ValidateErrors
	if errors.As(err, &validateErrs) {
		return ExitConfigError
	}

	var replyErr *ReplyError
	if errors.As(err, &replyErr) || errors.Is(err, cloud.ErrNotConfigured) {
		return ExitReplyError
	}

	return ExitGeneralError
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
