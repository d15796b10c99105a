// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the chat view component for the chatterm TUI.

The view is a Bubble Tea model that renders snapshots published by the
conversation controller and turns key presses into controller calls. It owns
no conversation state of its own.

# Key Components

## Model (model.go)

The Model struct holds the viewport, the input line, the spinner shown while
a reply is pending, and the keyboard mode:
  - ModeInput: typing a new message
  - ModeSelect: picking an earlier user message with up/down
  - ModeEdit: rewriting the picked message in the input line

## View Rendering (view.go)

  - Header with the model name
  - User bubbles with time label and "(edited)" marker
  - Assistant replies rendered as markdown with glamour, a "|" cursor while
    revealing, and error styling for failed replies
  - Status bar with turn state and shortcuts

# Keyboard Shortcuts

	Enter    send message (save while editing)
	Esc      clear input (cancel edit)
	Ctrl+L   clear conversation
	Ctrl+E   edit last message
	Up/Down  pick a message, then e to edit
	PgUp/Dn  scroll
	Ctrl+C   quit

# Usage

	m := chat.New(controller, styles.NewTheme("auto"), chat.Options{ModelName: "llama-3.1-8b-instant"})
	defer m.Close()
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
*/
package chat
