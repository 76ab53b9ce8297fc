// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompts builds the system instructions sent with every generation call.
//
// All builders are pure: the same inputs always produce the same string, and
// nothing here performs I/O. A Builder carries the output language; the
// package-level functions use English.
package prompts

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DefaultLanguage is the BCP 47 tag used when none is configured.
const DefaultLanguage = "en"

// Builder renders prompts for one output language.
type Builder struct {
	tag          language.Tag
	languageName string
}

var std = &Builder{tag: language.English, languageName: "English"}

// NewBuilder returns a Builder whose prompts ask for output in lang.
// An empty lang selects DefaultLanguage.
func NewBuilder(lang string) (*Builder, error) {
	if strings.TrimSpace(lang) == "" {
		lang = DefaultLanguage
	}
	name, tag, err := LanguageName(lang)
	if err != nil {
		return nil, err
	}
	return &Builder{tag: tag, languageName: name}, nil
}

// Language returns the English display name of the output language.
func (b *Builder) Language() string {
	return b.languageName
}

// Tag returns the parsed output language.
func (b *Builder) Tag() language.Tag {
	return b.tag
}

// LanguageName resolves a BCP 47 tag to its English display name.
func LanguageName(lang string) (string, language.Tag, error) {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return "", language.Und, fmt.Errorf("invalid language tag %q: %w", lang, err)
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		return "", language.Und, fmt.Errorf("no display name for language tag %q", lang)
	}
	return name, tag, nil
}

// languageDirective is appended to every prompt that produces prose.
func (b *Builder) languageDirective(what string) string {
	return fmt.Sprintf("Write %s in %s.", what, b.languageName)
}

// Onboarding builds the onboarding prompt with English output.
func Onboarding(stage int, facts map[string]any) string {
	return std.Onboarding(stage, facts)
}

// Summarizer builds the note summarization prompt with English output.
func Summarizer(courseName, notes string) string {
	return std.Summarizer(courseName, notes)
}

// Tutor builds the course tutor prompt with English output.
func Tutor(courseName string) string {
	return std.Tutor(courseName)
}
