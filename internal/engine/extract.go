/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package engine

import (
	"regexp"
	"strings"
)

// NoAnalysis replaces an empty model explanation.
const NoAnalysis = "No analysis provided."

// Source records where an extracted command came from.
type Source string

const (
	SourceNone         Source = ""
	SourceFunctionCall Source = "function_call"
	SourceCodeBlock    Source = "code_block"
	SourceInlineCode   Source = "inline_code"
	SourceBareLine     Source = "bare_line"
)

// Action is a parsed model response.
type Action struct {
	// Explanation is the model's analysis with emphasis markers stripped.
	Explanation string

	// Command is the candidate command, empty when nothing actionable was found.
	Command string

	Source Source
}

// Extractor pulls a candidate command out of a model response. Text patterns
// are tried in priority order when the model did not call the shell tool.
type Extractor struct {
	verb     string
	patterns []textPattern
}

type textPattern struct {
	source Source
	re     *regexp.Regexp
}

// NewExtractor builds an extractor for commands starting with verb.
func NewExtractor(verb string) *Extractor {
	v := regexp.QuoteMeta(verb)
	return &Extractor{
		verb: verb,
		patterns: []textPattern{
			{SourceCodeBlock, regexp.MustCompile("(?s)```(?:bash|sh)?\\n?(" + v + ".*?)```")},
			{SourceInlineCode, regexp.MustCompile("`(" + v + ".*?)`")},
			{SourceBareLine, regexp.MustCompile(`(` + v + `\s+set\s+.*)`)},
		},
	}
}

// Extract returns the explanation and command from a response. structured is
// the command argument of a tool call, or empty when the model only replied
// with text. A command that is only the bare verb counts as no command.
func (e *Extractor) Extract(structured, text string) Action {
	a := Action{Explanation: CleanMarkdown(text)}
	if a.Explanation == "" {
		a.Explanation = NoAnalysis
	}

	switch {
	case strings.TrimSpace(structured) != "":
		a.Command, a.Source = structured, SourceFunctionCall
	case strings.TrimSpace(text) != "":
		a.Command, a.Source = e.fromText(text)
	}

	if strings.TrimSpace(a.Command) == e.verb {
		a.Command, a.Source = "", SourceNone
	}
	return a
}

func (e *Extractor) fromText(text string) (string, Source) {
	for _, p := range e.patterns {
		if m := p.re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1]), p.source
		}
	}
	return "", SourceNone
}

// CleanMarkdown trims text and strips bold markers.
func CleanMarkdown(text string) string {
	return strings.ReplaceAll(strings.TrimSpace(text), "**", "")
}
