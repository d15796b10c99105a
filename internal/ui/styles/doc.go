// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the chatterm TUI.
//
// Colors are Lip Gloss AdaptiveColors so one palette serves dark and light
// terminals. Theme groups the styles used by the chat view and records
// whether the background is dark, which also selects the glamour style for
// rendered replies.
//
// # Usage
//
//	theme := styles.NewTheme(cfg.UI.Theme)
//	fmt.Println(theme.UserBubble.Render("Hello"))
package styles
