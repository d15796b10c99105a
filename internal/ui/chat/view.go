// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/chatterm/internal/model"
	"github.com/jeranaias/chatterm/internal/session"
	"github.com/jeranaias/chatterm/internal/ui/styles"
)

// WelcomeText is shown while the conversation is empty.
const WelcomeText = "Welcome to chatterm! Send a message using the input below."

// revealCursor trails a reply while it is being revealed.
const revealCursor = "|"

// =============================================================================
// LAYOUT
// =============================================================================

func (m Model) renderChat() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	header := m.renderHeader()
	input := m.renderInput()
	status := m.renderStatusBar()

	availableHeight := m.height - lipgloss.Height(header) - lipgloss.Height(input) - lipgloss.Height(status)
	if availableHeight < 1 {
		availableHeight = 1
	}

	messages := m.viewport.View()
	if lipgloss.Height(messages) != availableHeight {
		messages = lipgloss.NewStyle().
			Height(availableHeight).
			MaxHeight(availableHeight).
			Width(m.width).
			Render(messages)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, messages, input, status)
}

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("chatterm")
	if m.modelName != "" {
		title += m.theme.HeaderSubtitle.Render("  " + m.modelName)
	}
	return m.theme.Header.Width(m.width).MaxHeight(headerHeight).Render(title)
}

func (m Model) renderInput() string {
	prompt := m.theme.InputPrompt
	if m.mode == ModeEdit {
		prompt = m.theme.EditPrompt
	}
	in := m.input
	in.PromptStyle = prompt
	in.PlaceholderStyle = m.theme.Placeholder
	return m.theme.InputContainer.Width(m.width).Render(in.View())
}

func (m Model) renderStatusBar() string {
	var left string
	switch {
	case m.status != "" && m.statusErr:
		left = m.theme.StatusBusy.Render(m.status)
	case m.status != "":
		left = m.status
	default:
		left = stateLabel(m.snapshot.State)
	}

	var hints []string
	switch m.mode {
	case ModeSelect:
		hints = []string{"up/down", "select", "e", "edit", "Esc", "back"}
	case ModeEdit:
		hints = []string{"Enter", "save", "Esc", "cancel"}
	default:
		for _, b := range m.keyMap.ShortHelp() {
			h := b.Help()
			hints = append(hints, h.Key, h.Desc)
		}
	}

	var right strings.Builder
	for i := 0; i+1 < len(hints); i += 2 {
		if i > 0 {
			right.WriteString(m.theme.ShortcutDesc.Render("  "))
		}
		right.WriteString(m.theme.ShortcutKey.Render(hints[i]))
		right.WriteString(m.theme.ShortcutDesc.Render(" " + hints[i+1]))
	}

	inner := m.width - 2
	rightStr := right.String()
	if m.theme.GetLayoutMode() == styles.LayoutNarrow || lipgloss.Width(left)+lipgloss.Width(rightStr)+1 > inner {
		rightStr = ""
	}
	gap := inner - lipgloss.Width(left) - lipgloss.Width(rightStr)
	if gap < 1 {
		gap = 1
	}
	line := left + strings.Repeat(" ", gap) + rightStr
	return m.theme.StatusBar.Width(m.width).MaxWidth(m.width).MaxHeight(statusBarHeight).Render(line)
}

func stateLabel(s session.State) string {
	switch s {
	case session.StateSubmitting:
		return "Sending..."
	case session.StateAwaiting:
		return "Waiting for reply..."
	case session.StateRevealing:
		return "Replying..."
	default:
		return "Ready"
	}
}

// =============================================================================
// MESSAGES
// =============================================================================

// updateViewport re-renders the history, following the bottom if the user
// had not scrolled away from it.
func (m *Model) updateViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderMessages())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMessages() string {
	if len(m.snapshot.Messages) == 0 {
		return m.renderEmptyState()
	}

	parts := make([]string, 0, len(m.snapshot.Messages))
	for _, msg := range m.snapshot.Messages {
		if rendered := m.renderMessage(msg); rendered != "" {
			parts = append(parts, rendered)
		}
	}
	return strings.Join(parts, "\n")
}

func (m *Model) renderMessage(msg model.Message) string {
	if msg.Sender == model.SenderUser {
		return m.renderUserMessage(msg)
	}
	return m.renderAssistantMessage(msg)
}

// contentWidth is the usable width for message bodies.
func (m *Model) contentWidth() int {
	w := m.width - 8
	if w > 100 {
		w = 100
	}
	if w < 10 {
		w = 10
	}
	return w
}

func (m *Model) renderLabel(msg model.Message) string {
	label := msg.Sender.DisplayName()
	if m.showTimestamps {
		if t := msg.TimeLabel(); t != "" {
			label += "  " + t
		}
	}
	out := m.theme.Timestamp.Render(label)
	if msg.IsEdited {
		out += " " + m.theme.EditedMarker.Render("(edited)")
	}
	return out
}

func (m *Model) renderUserMessage(msg model.Message) string {
	bubble := m.theme.UserBubble
	if msg.ID == m.selectedID && m.mode != ModeInput {
		bubble = m.theme.SelectedBubble
	}

	width := m.contentWidth()
	rendered := bubble.MaxWidth(width + 6).Render(wrapText(msg.Content, width))
	block := lipgloss.JoinVertical(lipgloss.Right, m.renderLabel(msg), rendered)

	marginLeft := m.width - lipgloss.Width(block) - 2
	if marginLeft < 0 {
		marginLeft = 0
	}
	return lipgloss.NewStyle().MarginLeft(marginLeft).MarginTop(1).Render(block)
}

func (m *Model) renderAssistantMessage(msg model.Message) string {
	width := m.contentWidth()

	var body string
	switch {
	case msg.IsPending:
		body = m.theme.Pending.Render(m.spinner.View() + " Thinking...")
	case msg.IsRevealing:
		body = m.theme.AssistantBody.Render(wrapText(msg.Content, width)) + m.theme.Cursor.Render(revealCursor)
	case msg.IsError:
		body = m.theme.ErrorBubble.Render(wrapText(msg.Content, width-2))
	case strings.TrimSpace(msg.Content) == "":
		body = m.theme.Pending.Render("(empty reply)")
	default:
		body = m.markdown.Render(msg.Content, width)
	}

	return lipgloss.NewStyle().
		MarginTop(1).
		MarginLeft(2).
		Render(lipgloss.JoinVertical(lipgloss.Left, m.renderLabel(msg), body))
}

func (m *Model) renderEmptyState() string {
	width := m.width - 8
	if width < 20 {
		width = 20
	}
	if width > 80 {
		width = 80
	}

	title := m.theme.WelcomeTitle.Width(width).Align(lipgloss.Center).Render("chatterm")
	text := m.theme.WelcomeText.Width(width).Align(lipgloss.Center).Render(WelcomeText)
	block := lipgloss.JoinVertical(lipgloss.Left, title, text)

	return lipgloss.Place(m.viewport.Width, m.viewport.Height, lipgloss.Center, lipgloss.Center, block)
}
