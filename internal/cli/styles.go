// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styling for command and REPL output.
//
// Colors are disabled for non-TTY output and when NO_COLOR is set, so
// piped `chatterm ask` output stays plain text.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/chatterm/internal/ui/styles"
)

// init configures lipgloss color profile based on terminal capabilities.
func init() {
	lipgloss.SetColorProfile(colorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for banners and section headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Purple)

	// LabelStyle is used for field labels in `config show`
	LabelStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary).
			Width(22)

	// ValueStyle is used for regular values
	ValueStyle = lipgloss.NewStyle().
			Foreground(styles.TextPrimary)

	// PromptStyle colours the REPL prompt
	PromptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	// UserStyle labels user messages in history listings
	UserStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan)

	// AssistantStyle labels assistant messages in history listings
	AssistantStyle = lipgloss.NewStyle().
			Foreground(styles.Purple)

	// SuccessStyle is used for confirmations
	SuccessStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald).
			Bold(true)

	// ErrorStyle is used for error messages and failed replies
	ErrorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)

	// WarningStyle is used for warnings
	WarningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	// DimStyle is used for hints and timestamps
	DimStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)

	// CommandStyle highlights slash commands in help output
	CommandStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)
)

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal rule, 30 columns unless given.
func RenderSeparator(width ...int) string {
	w := 30
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return DimStyle.Render(strings.Repeat("-", w))
}

// RenderLabel renders a label padded to the shared width.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}

// senderStyle picks the label style for a sender display name.
func senderStyle(user bool) lipgloss.Style {
	if user {
		return UserStyle
	}
	return AssistantStyle
}
