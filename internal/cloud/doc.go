// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the chat-completions client for the hosted provider.
//
// # Key Types
//
//   - Client: one-shot, non-streaming completion requests
//   - Completer: interface the session controller depends on
//   - ConfigError, ProviderError, FormatError, NetworkError: failure classes
//
// # Usage
//
//	client := cloud.NewClient(apiKey, cloud.DefaultConfig())
//	reply, err := client.Complete(ctx, "Hi", history)
//	if err != nil {
//	    text := cloud.UserMessage(err)
//	}
//
// # Security
//
// The API key is sent only in the Authorization header. It is never logged;
// KeyFingerprint gives a stable short hash for diagnostics.
package cloud
