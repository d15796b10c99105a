// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// maxRenderCache bounds the number of rendered replies kept per width.
const maxRenderCache = 256

// markdownRenderer renders finalized replies with glamour. Output is cached
// by content because the whole history is re-rendered on every snapshot.
type markdownRenderer struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
	cache    map[string]string
}

func newMarkdownRenderer(style string) *markdownRenderer {
	return &markdownRenderer{style: style, cache: make(map[string]string)}
}

// Render returns content rendered for width columns. It falls back to
// plain wrapped text if glamour cannot be initialized or fails.
func (r *markdownRenderer) Render(content string, width int) string {
	if width < 10 {
		width = 10
	}
	if r.renderer == nil || r.width != width {
		tr, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return wrapText(content, width)
		}
		r.renderer = tr
		r.width = width
		r.cache = make(map[string]string)
	}

	if out, ok := r.cache[content]; ok {
		return out
	}

	out, err := r.renderer.Render(content)
	if err != nil {
		return wrapText(content, width)
	}
	out = strings.Trim(out, "\n")

	if len(r.cache) >= maxRenderCache {
		r.cache = make(map[string]string)
	}
	r.cache[content] = out
	return out
}

// wrapText wraps text to a maximum width, handling Unicode correctly.
// It preserves existing line breaks and breaks long lines at spaces.
func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}

	var result strings.Builder
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}

		runes := []rune(line)
		for len(runes) > maxWidth {
			breakPoint := maxWidth
			for j := maxWidth; j > 0; j-- {
				if runes[j] == ' ' {
					breakPoint = j
					break
				}
			}

			result.WriteString(string(runes[:breakPoint]))
			result.WriteString("\n")
			runes = []rune(strings.TrimLeft(string(runes[breakPoint:]), " "))
		}
		result.WriteString(string(runes))
	}

	return result.String()
}
