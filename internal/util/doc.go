// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by packmate packages.
//
// # Key Functions
//
// String Utilities:
//   - TruncateWidth: display-width aware truncation with an ellipsis
//   - Preview: one-line preview of multi-line text
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	line := util.Preview(audit.Review, 60)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
