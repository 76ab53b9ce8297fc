// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// StageCompleteMarker ends the assistant reply once a stage has everything it
// asked for. Clients watch for it to advance the step counter.
const StageCompleteMarker = "[[STEP_COMPLETE]]"

// Field is one profile attribute gathered during onboarding.
type Field struct {
	Key         string
	Description string
}

// Stage is one step of the onboarding conversation.
type Stage struct {
	Number int
	Name   string
	Goal   string
	Fields []Field
}

var stages = []Stage{
	{
		Number: 1,
		Name:   "welcome",
		Goal:   "Welcome the student to UniLife 360 and learn who they are.",
		Fields: []Field{
			{Key: "firstName", Description: "the name the student wants to be called"},
			{Key: "university", Description: "the university or school they attend"},
		},
	},
	{
		Number: 2,
		Name:   "studies",
		Goal:   "Find out what the student studies and how far along they are.",
		Fields: []Field{
			{Key: "major", Description: "their field of study or degree program"},
			{Key: "yearOfStudy", Description: "their current year or semester"},
		},
	},
	{
		Number: 3,
		Name:   "schedule",
		Goal:   "Collect the courses the student is taking this term and when they happen.",
		Fields: []Field{
			{Key: "courses", Description: "the list of courses this term"},
			{Key: "weeklySchedule", Description: "when lectures, labs and recurring commitments take place"},
		},
	},
	{
		Number: 4,
		Name:   "habits",
		Goal:   "Understand how the student likes to study and what they want to achieve.",
		Fields: []Field{
			{Key: "studyGoals", Description: "what they want to achieve this term"},
			{Key: "studyPreferences", Description: "when and how they prefer to study"},
		},
	},
	{
		Number: 5,
		Name:   "wrap-up",
		Goal:   "Read the profile back to the student in a short list and ask them to confirm or correct it.",
	},
}

// Stages returns the enumerated onboarding stages in order.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

// StageCount is the number of enumerated stages. Later steps use the fallback block.
func StageCount() int {
	return len(stages)
}

const onboardingPersona = `You are Uni, the onboarding assistant of UniLife 360, an app that helps students organise their courses, schedule and study life.
Be warm, concise and encouraging. Ask at most two questions per reply and never ask for information you already have.
Do not invent details about the student. If an answer is ambiguous, ask a short follow-up question.`

const onboardingFallback = `Onboarding is complete. Help the student with follow-up questions about their profile or about UniLife 360.
If the student corrects any detail, acknowledge the change and restate the corrected value.
Do not restart the onboarding questions and do not emit the step marker.`

// Onboarding builds the system prompt for the given stage. Stages below 1 are
// treated as stage 1; stages beyond the enumerated set get the fallback block.
func (b *Builder) Onboarding(stage int, facts map[string]any) string {
	if stage < 1 {
		stage = 1
	}

	var sb strings.Builder
	sb.WriteString(onboardingPersona)
	sb.WriteString("\n\n")

	if stage > len(stages) {
		sb.WriteString("## Status\n")
		sb.WriteString(onboardingFallback)
		sb.WriteString("\n\n")
		writeKnownFacts(&sb, facts)
		sb.WriteString(b.languageDirective("your replies"))
		return sb.String()
	}

	s := stages[stage-1]
	fmt.Fprintf(&sb, "## Step %d of %d: %s\n%s\n\n", s.Number, len(stages), s.Name, s.Goal)
	writeKnownFacts(&sb, facts)

	var missing []Field
	for _, f := range s.Fields {
		if isMissing(facts[f.Key]) {
			missing = append(missing, f)
		}
	}

	switch {
	case len(missing) > 0:
		sb.WriteString("## Information still needed\n")
		for _, f := range missing {
			fmt.Fprintf(&sb, "- %s: %s\n", f.Key, f.Description)
		}
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "Once you have all of it, confirm it in one sentence and end your reply with %s on its own line.\n\n", StageCompleteMarker)
	case len(s.Fields) == 0:
		fmt.Fprintf(&sb, "When the student confirms the profile, thank them and end your reply with %s on its own line.\n\n", StageCompleteMarker)
	default:
		fmt.Fprintf(&sb, "Everything for this step is already known. Confirm it in one sentence and end your reply with %s on its own line.\n\n", StageCompleteMarker)
	}

	sb.WriteString(b.languageDirective("your replies"))
	return sb.String()
}

func writeKnownFacts(sb *strings.Builder, facts map[string]any) {
	keys := make([]string, 0, len(facts))
	for k, v := range facts {
		if !isMissing(v) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		sb.WriteString("## What you already know\nNothing yet.\n\n")
		return
	}
	sort.Strings(keys)

	sb.WriteString("## What you already know\n")
	for _, k := range keys {
		fmt.Fprintf(sb, "- %s: %s\n", k, formatFact(facts[k]))
	}
	sb.WriteString("\n")
}

// isMissing treats nil, blank strings and empty collections as unknown.
func isMissing(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

func formatFact(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, formatFact(item))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(val, ", ")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+formatFact(val[k]))
		}
		return strings.Join(parts, "; ")
	case float64:
		// JSON numbers decode as float64; print whole numbers without a fraction.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	}
	return fmt.Sprint(v)
}
