// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/key"
)

// =============================================================================
// KEY MAP DEFINITION
// =============================================================================

// KeyMap defines all keyboard bindings for the chat interface.
type KeyMap struct {
	Submit     key.Binding
	ClearInput key.Binding
	ClearChat  key.Binding
	EditLast   key.Binding
	SelectUp   key.Binding
	SelectDown key.Binding
	EditPicked key.Binding
	PageUp     key.Binding
	PageDown   key.Binding
	Quit       key.Binding
}

// DefaultKeyMap returns the default key bindings for the chat interface.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("Enter", "send"),
		),
		ClearInput: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("Esc", "clear input"),
		),
		ClearChat: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("C-l", "clear chat"),
		),
		EditLast: key.NewBinding(
			key.WithKeys("ctrl+e"),
			key.WithHelp("C-e", "edit last"),
		),
		SelectUp: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("up", "select message"),
		),
		SelectDown: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("down", "next message"),
		),
		EditPicked: key.NewBinding(
			key.WithKeys("e", "enter"),
			key.WithHelp("e", "edit"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("PgUp", "page up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("PgDn", "page down"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("C-c", "quit"),
		),
	}
}

// =============================================================================
// KEY BINDING HELPERS
// =============================================================================

// ShortHelp returns the bindings shown in the status bar while typing.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.ClearChat, k.EditLast, k.Quit}
}

// FullHelp returns every binding grouped for the help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.ClearInput, k.ClearChat, k.EditLast},
		{k.SelectUp, k.SelectDown, k.EditPicked},
		{k.PageUp, k.PageDown, k.Quit},
	}
}
