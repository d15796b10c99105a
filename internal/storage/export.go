// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local persistence for the chatterm conversation.
package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/chatterm/internal/model"
)

// =============================================================================
// EXPORT
// =============================================================================

// ExportFormat selects an export encoding.
type ExportFormat string

const (
	FormatMarkdown ExportFormat = "md"
	FormatJSON     ExportFormat = "json"
)

// ParseExportFormat accepts "md", "markdown" and "json".
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want md or json)", s)
	}
}

// Export renders msgs in the requested format.
func Export(msgs []model.Message, format ExportFormat, now time.Time) ([]byte, error) {
	switch format {
	case FormatJSON:
		return ExportJSON(msgs)
	default:
		return []byte(ExportMarkdown(msgs, now)), nil
	}
}

// ExportMarkdown renders the conversation as Markdown. Pending placeholders
// are skipped since they have no content yet.
func ExportMarkdown(msgs []model.Message, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("# Conversation\n\n")
	sb.WriteString("Exported: " + now.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range msgs {
		if msg.IsPending {
			continue
		}
		sb.WriteString("**" + msg.Sender.DisplayName() + "**")
		if label := msg.TimeLabel(); label != "" {
			sb.WriteString(" (" + label + ")")
		}
		if msg.IsEdited {
			sb.WriteString(" _(edited)_")
		}
		if msg.IsError {
			sb.WriteString(" _(error)_")
		}
		sb.WriteString(":\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// ExportJSON renders the conversation as indented JSON using the same record
// encoding as the persisted store.
func ExportJSON(msgs []model.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []model.Message{}
	}
	return json.MarshalIndent(msgs, "", "  ")
}
