// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatterm/internal/session"
)

// =============================================================================
// TEA MESSAGES
// =============================================================================

// SnapshotMsg carries a new view of the conversation from the controller.
type SnapshotMsg struct {
	Snapshot session.Snapshot
}

// subscriptionClosedMsg is sent once the controller closes the feed.
type subscriptionClosedMsg struct{}

// StatusMsg shows a transient line in the status bar. Other parts of the
// program (the config watcher) send it through tea.Program.Send.
type StatusMsg struct {
	Text  string
	Error bool
}

// statusExpiredMsg clears the status line if it has not been replaced.
type statusExpiredMsg struct {
	seq int
}

// statusTTL is how long a transient status stays visible.
const statusTTL = 4 * time.Second

// =============================================================================
// COMMAND CREATORS
// =============================================================================

// waitForSnapshot blocks on the subscription and delivers the next
// snapshot. Only the latest snapshot is kept in the channel, so a slow
// renderer skips intermediate reveal frames instead of falling behind.
func waitForSnapshot(ch <-chan session.Snapshot) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return subscriptionClosedMsg{}
		}
		return SnapshotMsg{Snapshot: snap}
	}
}

func expireStatus(seq int) tea.Cmd {
	return tea.Tick(statusTTL, func(time.Time) tea.Msg {
		return statusExpiredMsg{seq: seq}
	})
}
