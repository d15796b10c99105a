// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Decides between the full screen view, line mode with
// editing, and plain piped input, based on what the app reads and writes.

package cli

import (
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// fdTerminal reports whether v is an *os.File attached to a terminal.
// Readers and writers that are not files (buffers in tests, pipes wrapped
// by callers) never count as terminals.
func fdTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && f != nil && term.IsTerminal(int(f.Fd()))
}

// Interactive reports whether the process's stdin and stdout are both
// terminals, which the full screen view needs.
func Interactive() bool {
	return fdTerminal(os.Stdin) && fdTerminal(os.Stdout)
}

// lineEditing reports whether chat input can use liner: both the app's
// reader and writer must be the terminal.
func lineEditing(in, out any) bool {
	return fdTerminal(in) && fdTerminal(out)
}

// =============================================================================
// WIDTH
// =============================================================================

const (
	// DefaultTerminalWidth is used when the output is not a terminal.
	DefaultTerminalWidth = 80

	// MinTerminalWidth keeps history previews readable in narrow windows.
	MinTerminalWidth = 40
)

// outputWidth returns the column count of out, or DefaultTerminalWidth.
func outputWidth(out any) int {
	f, ok := out.(*os.File)
	if !ok || f == nil {
		return DefaultTerminalWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	switch {
	case err != nil || width <= 0:
		return DefaultTerminalWidth
	case width < MinTerminalWidth:
		return MinTerminalWidth
	}
	return width
}

// =============================================================================
// COLOR
// =============================================================================

var (
	colorsEnabled     bool
	colorsEnabledOnce sync.Once
)

// ColorsEnabled honours NO_COLOR (https://no-color.org/) first, then
// FORCE_COLOR, then whether stdout is a terminal. The answer is cached.
func ColorsEnabled() bool {
	colorsEnabledOnce.Do(func() {
		switch {
		case os.Getenv("NO_COLOR") != "":
			colorsEnabled = false
		case os.Getenv("FORCE_COLOR") != "":
			colorsEnabled = true
		default:
			colorsEnabled = fdTerminal(os.Stdout)
		}
	})
	return colorsEnabled
}

// colorProfile is the termenv profile line output is rendered with.
func colorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}
