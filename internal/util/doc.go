// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by config writing and logging.
//
//   - WriteFileAtomic: write-fsync-rename so a crash never leaves a
//     half-written config file behind
//   - ClipForLog: rune-safe truncation of provider error text before it is
//     written to a log line
package util
