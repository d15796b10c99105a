// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatterm/internal/model"
	"github.com/jeranaias/chatterm/internal/session"
	"github.com/jeranaias/chatterm/internal/ui/styles"
)

// =============================================================================
// CONTROLLER SURFACE
// =============================================================================

// Controller is the part of the conversation controller the view drives.
// *session.Controller satisfies it.
type Controller interface {
	Submit(ctx context.Context, text string) error
	Edit(id, text string) error
	Clear()
	Current() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
}

// =============================================================================
// CHAT MODE
// =============================================================================

// Mode is what the keyboard currently drives.
type Mode int

const (
	ModeInput  Mode = iota // Typing a new message
	ModeSelect             // Picking a past user message
	ModeEdit               // Rewriting a picked message
)

// Placeholder shown in the empty input line.
const inputPlaceholder = "Send a message"

// =============================================================================
// CHAT MODEL
// =============================================================================

// Options configure the chat view.
type Options struct {
	// ModelName is shown in the header.
	ModelName string

	// ShowTimestamps adds the time label above each message.
	ShowTimestamps bool

	// MarkdownStyle overrides the glamour style picked from the theme.
	MarkdownStyle string

	// Context bounds completion calls started from the view.
	Context context.Context
}

// Model is the Bubble Tea model for the chat view.
type Model struct {
	ctrl Controller
	ctx  context.Context

	// Styling
	theme    *styles.Theme
	markdown *markdownRenderer

	// Dimensions
	width  int
	height int

	// UI Components
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	keyMap   KeyMap

	// Conversation feed
	snapshot    session.Snapshot
	updates     <-chan session.Snapshot
	unsubscribe func()
	spinning    bool

	// Selection and editing
	mode       Mode
	selectedID string
	editingID  string
	draft      string

	// Status
	modelName      string
	showTimestamps bool
	status         string
	statusErr      bool
	statusSeq      int
}

// New creates a chat model bound to ctrl and subscribes to its updates.
// Call Close when the program exits.
func New(ctrl Controller, theme *styles.Theme, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = inputPlaceholder
	ti.CharLimit = 8192
	ti.Focus()

	vp := viewport.New(80, 20)

	// ASCII-compatible animation
	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}

	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	style := opts.MarkdownStyle
	if style == "" {
		style = theme.GlamourStyle()
	}

	updates, unsubscribe := ctrl.Subscribe()

	m := Model{
		ctrl:           ctrl,
		ctx:            ctx,
		theme:          theme,
		markdown:       newMarkdownRenderer(style),
		viewport:       vp,
		input:          ti,
		spinner:        sp,
		keyMap:         DefaultKeyMap(),
		snapshot:       ctrl.Current(),
		updates:        updates,
		unsubscribe:    unsubscribe,
		modelName:      opts.ModelName,
		showTimestamps: opts.ShowTimestamps,
	}
	return m
}

// Close releases the controller subscription.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init starts the cursor blink and the snapshot feed.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForSnapshot(m.updates))
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SnapshotMsg:
		return m.handleSnapshot(msg)

	case subscriptionClosedMsg:
		m.updates = nil
		return m, nil

	case StatusMsg:
		return m.setStatus(msg.Text, msg.Error)

	case statusExpiredMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
			m.statusErr = false
		}
		return m, nil

	case spinner.TickMsg:
		if !m.awaiting() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.updateViewport()
		return m, cmd

	default:
		var cmds []tea.Cmd
		if m.mode != ModeSelect {
			var inputCmd tea.Cmd
			m.input, inputCmd = m.input.Update(msg)
			cmds = append(cmds, inputCmd)
		}
		var vpCmd tea.Cmd
		m.viewport, vpCmd = m.viewport.Update(msg)
		cmds = append(cmds, vpCmd)
		return m, tea.Batch(cmds...)
	}
}

// View renders the chat view.
func (m Model) View() string {
	return m.renderChat()
}

// =============================================================================
// MESSAGE HANDLERS
// =============================================================================

// Fixed rows around the viewport: header, input border + line, status bar.
const (
	headerHeight    = 1
	inputAreaHeight = 2
	statusBarHeight = 1
)

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	viewportHeight := m.height - headerHeight - inputAreaHeight - statusBarHeight
	if viewportHeight < 1 {
		viewportHeight = 1
	}
	viewportWidth := m.width
	if viewportWidth < 1 {
		viewportWidth = 1
	}
	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight

	// Input line has Padding(0,1) and a two-column prompt.
	const promptLen = 2
	inputWidth := m.width - 2 - promptLen - 1
	if inputWidth < 10 {
		inputWidth = 10
	}
	m.input.Width = inputWidth

	if m.theme != nil {
		m.theme.SetSize(m.width, m.height)
	}

	m.updateViewport()
	m.viewport.GotoBottom()
	return m, nil
}

func (m Model) handleSnapshot(msg SnapshotMsg) (tea.Model, tea.Cmd) {
	m.snapshot = msg.Snapshot

	// A clear can remove the message being picked or edited.
	if m.selectedID != "" && m.find(m.selectedID) < 0 {
		m.selectedID = ""
		if m.mode == ModeSelect {
			m.mode = ModeInput
			m.input.Focus()
		}
	}
	if m.mode == ModeEdit && m.find(m.editingID) < 0 {
		m.leaveEdit()
	}

	cmds := []tea.Cmd{waitForSnapshot(m.updates)}
	if m.awaiting() && !m.spinning {
		m.spinning = true
		cmds = append(cmds, m.spinner.Tick)
	}

	m.updateViewport()
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keyMap.Quit) {
		return m, tea.Quit
	}

	if key.Matches(msg, m.keyMap.PageUp) {
		m.viewport.ViewUp()
		return m, nil
	}
	if key.Matches(msg, m.keyMap.PageDown) {
		m.viewport.ViewDown()
		return m, nil
	}

	switch m.mode {
	case ModeSelect:
		return m.handleSelectKey(msg)
	case ModeEdit:
		return m.handleEditKey(msg)
	default:
		return m.handleInputKey(msg)
	}
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keyMap.Submit):
		return m.submit()

	case key.Matches(msg, m.keyMap.ClearInput):
		m.input.Reset()
		return m, nil

	case key.Matches(msg, m.keyMap.ClearChat):
		m.ctrl.Clear()
		return m.setStatus("Conversation cleared", false)

	case key.Matches(msg, m.keyMap.EditLast):
		ids := m.editableIDs()
		if len(ids) == 0 {
			return m.setStatus("Nothing to edit yet", false)
		}
		return m.enterEdit(ids[len(ids)-1])

	case key.Matches(msg, m.keyMap.SelectUp):
		ids := m.editableIDs()
		if m.input.Value() != "" || len(ids) == 0 {
			return m, nil
		}
		m.mode = ModeSelect
		m.selectedID = ids[len(ids)-1]
		m.input.Blur()
		m.updateViewport()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSelectKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ids := m.editableIDs()
	pos := indexOf(ids, m.selectedID)

	switch {
	case key.Matches(msg, m.keyMap.SelectUp):
		if pos > 0 {
			m.selectedID = ids[pos-1]
		}
	case key.Matches(msg, m.keyMap.SelectDown):
		if pos >= 0 && pos < len(ids)-1 {
			m.selectedID = ids[pos+1]
		} else {
			return m.leaveSelect()
		}
	case key.Matches(msg, m.keyMap.EditPicked):
		if pos < 0 {
			return m.leaveSelect()
		}
		return m.enterEdit(m.selectedID)
	case key.Matches(msg, m.keyMap.ClearInput):
		return m.leaveSelect()
	}

	m.updateViewport()
	return m, nil
}

func (m Model) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyEnter:
		err := m.ctrl.Edit(m.editingID, m.input.Value())
		if errors.Is(err, session.ErrEmptyInput) {
			return m.setStatus("Message cannot be empty", true)
		}
		m.leaveEdit()
		m.updateViewport()
		if err != nil {
			return m.setStatus(errorText(err), true)
		}
		return m.setStatus("Message updated", false)

	case key.Matches(msg, m.keyMap.ClearInput):
		m.leaveEdit()
		m.updateViewport()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// ACTIONS
// =============================================================================

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}

	if err := m.ctrl.Submit(m.ctx, text); err != nil {
		return m.setStatus(errorText(err), true)
	}
	m.input.Reset()
	m.viewport.GotoBottom()
	return m, nil
}

func (m Model) enterEdit(id string) (tea.Model, tea.Cmd) {
	i := m.find(id)
	if i < 0 {
		return m, nil
	}
	if m.mode != ModeEdit {
		m.draft = m.input.Value()
	}
	m.mode = ModeEdit
	m.editingID = id
	m.selectedID = id
	m.input.SetValue(m.snapshot.Messages[i].Content)
	m.input.CursorEnd()
	m.input.Focus()
	m.updateViewport()
	return m, textinput.Blink
}

func (m *Model) leaveEdit() {
	m.mode = ModeInput
	m.editingID = ""
	m.selectedID = ""
	m.input.SetValue(m.draft)
	m.input.CursorEnd()
	m.draft = ""
	m.input.Focus()
}

func (m Model) leaveSelect() (tea.Model, tea.Cmd) {
	m.mode = ModeInput
	m.selectedID = ""
	m.input.Focus()
	m.updateViewport()
	return m, textinput.Blink
}

func (m Model) setStatus(text string, isErr bool) (tea.Model, tea.Cmd) {
	m.statusSeq++
	m.status = text
	m.statusErr = isErr
	return m, expireStatus(m.statusSeq)
}

// errorText turns controller errors into status bar wording.
func errorText(err error) string {
	switch {
	case errors.Is(err, session.ErrBusy):
		return "Please wait for the current reply"
	case errors.Is(err, session.ErrEmptyInput):
		return "Message cannot be empty"
	case errors.Is(err, session.ErrNotEditable):
		return "That message cannot be edited"
	case errors.Is(err, session.ErrNotFound):
		return "Message no longer exists"
	case errors.Is(err, session.ErrClosed):
		return "Conversation is closed"
	default:
		return err.Error()
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (m Model) awaiting() bool {
	switch m.snapshot.State {
	case session.StateSubmitting, session.StateAwaiting:
		return true
	}
	return false
}

func (m Model) find(id string) int {
	for i, msg := range m.snapshot.Messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// editableIDs lists user messages that can be edited, oldest first.
func (m Model) editableIDs() []string {
	var ids []string
	for _, msg := range m.snapshot.Messages {
		if msg.Editable() {
			ids = append(ids, msg.ID)
		}
	}
	return ids
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// Mode returns the current keyboard mode.
func (m Model) Mode() Mode {
	return m.mode
}

// InputValue returns the text in the input line.
func (m Model) InputValue() string {
	return m.input.Value()
}

// Status returns the transient status line.
func (m Model) Status() string {
	return m.status
}

// Messages returns the messages currently displayed.
func (m Model) Messages() []model.Message {
	return m.snapshot.Messages
}
