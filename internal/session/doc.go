// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives the conversation: one user turn at a time,
// in-place edits, clearing, and change notification for the UI.
//
// # Turn Lifecycle
//
//	idle -> submitting -> awaiting -> revealing -> idle
//	                         |
//	                         +-> idle (error record)
//
// Submit appends the user record and a pending reply and returns. The
// completion call runs on its own goroutine; a reply is then typed into the
// pending record by the reveal animator. Only one turn may be in flight;
// Submit and Edit return ErrBusy until it finishes.
//
// # Key Types
//
//   - Controller: owns the conversation and its store
//   - Snapshot: immutable view delivered to subscribers
//   - State: phase of the current turn
//
// # Usage
//
//	ctrl := session.NewController(client, store)
//	defer ctrl.Close()
//	updates, stop := ctrl.Subscribe()
//	defer stop()
//	if err := ctrl.Submit(ctx, "Hi"); err != nil {
//	    // ErrEmptyInput or ErrBusy
//	}
//	for snap := range updates {
//	    render(snap.Messages)
//	}
package session
