// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "strings"

// MaxLogValue is the default rune budget for a single logged value.
const MaxLogValue = 300

// TruncateRunes truncates s to at most maxRunes runes, ending in "..." when
// something was cut. Multi-byte characters are never split.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// ClipForLog flattens newlines and truncates err's message to MaxLogValue
// runes so one upstream error body cannot flood or split a log line.
func ClipForLog(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.NewReplacer("\r", " ", "\n", " ").Replace(err.Error())
	return TruncateRunes(msg, MaxLogValue)
}
