// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatterm/internal/ui/chat"
	"github.com/jeranaias/chatterm/internal/ui/styles"
)

// RunTUI runs the full screen chat view until the user quits. Config file
// changes are applied while it runs and reported in the status bar.
func RunTUI(ctx context.Context, rt *Runtime) error {
	cfg := rt.Config()

	theme := styles.NewTheme(cfg.UI.Theme)
	m := chat.New(rt.Controller, theme, chat.Options{
		ModelName:      cfg.Provider.Model,
		ShowTimestamps: cfg.UI.ShowTimestamps,
		Context:        ctx,
	})
	defer m.Close()

	opts := []tea.ProgramOption{
		tea.WithContext(ctx),
		tea.WithMouseCellMotion(),
	}
	if cfg.UI.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(m, opts...)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go rt.Watch(watchCtx, func(text string, isErr bool) {
		p.Send(chat.StatusMsg{Text: text, Error: isErr})
	})

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running chatterm: %w", err)
	}
	return nil
}
