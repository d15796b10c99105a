// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across chatterm packages.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes, FirstRunes: UTF-8 safe rune slicing
//   - TruncateWidth, StringWidth, PadRight: display-width aware layout
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//   - ExpandHome: "~" expansion for configured paths
//
// # Usage
//
//	display := util.TruncateWidth(preview, 40)
//	err := util.AtomicWriteFile(path, data, util.PrivateFilePerm)
package util
