// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompts

import (
	"fmt"
	"strings"
)

// MaxSourceChars caps the notes embedded in a summarizer prompt, counted in
// characters (Unicode code points), to bound the request size.
const MaxSourceChars = 15000

// Summary length target, in words.
const (
	summaryMinWords = 200
	summaryMaxWords = 400
)

// Excerpt returns the first MaxSourceChars characters of notes, or notes
// unchanged when it is shorter. The cut ignores word and sentence boundaries.
func Excerpt(notes string) string {
	n := 0
	for i := range notes {
		if n == MaxSourceChars {
			return notes[:i]
		}
		n++
	}
	return notes
}

// Summarizer builds the prompt that turns course notes into a study summary.
func (b *Builder) Summarizer(courseName, notes string) string {
	var sb strings.Builder

	sb.WriteString("You are the study assistant of UniLife 360. ")
	if courseName != "" {
		fmt.Fprintf(&sb, "Summarize the student's notes for the course %q.\n\n", courseName)
		fmt.Fprintf(&sb, "Course: %s\n", courseName)
	} else {
		sb.WriteString("Summarize the student's course notes.\n\n")
	}

	sb.WriteString("Notes:\n\"\"\"\n")
	sb.WriteString(Excerpt(notes))
	sb.WriteString("\n\"\"\"\n\n")

	sb.WriteString("Rules:\n")
	sb.WriteString("- Use only information that appears in the notes. Never add facts, dates, figures, names or cases that the notes do not contain.\n")
	sb.WriteString("- If a passage is unclear or incomplete, say so briefly instead of guessing.\n")
	sb.WriteString("- Format the summary in Markdown with the sections: Overview, Key concepts, Definitions, Takeaways. Leave out a section the notes give nothing for.\n")
	fmt.Fprintf(&sb, "- Keep it between %d and %d words.\n", summaryMinWords, summaryMaxWords)
	sb.WriteString("- ")
	sb.WriteString(b.languageDirective("the summary"))
	sb.WriteString(" Keep technical terms as they appear in the notes.\n")

	return sb.String()
}

// SummaryRequest is the user turn sent when the caller supplies no history.
func SummaryRequest(courseName string) string {
	if courseName == "" {
		return "Please summarize my notes."
	}
	return fmt.Sprintf("Please summarize my notes for %s.", courseName)
}
