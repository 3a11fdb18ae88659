/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package security scrubs credentials out of text that leaves the cluster.
// Container logs and events are embedded in the diagnostic query sent to the
// reasoning service and echoed into chat, so they pass through Sanitize first.
package security

import "regexp"

// redactedPlaceholder replaces sensitive values.
const redactedPlaceholder = "[REDACTED]"

type rule struct {
	name string
	re   *regexp.Regexp
}

// rules match secrets commonly printed by workloads. When a rule has a first
// capture group, that prefix is kept for readability.
var rules = []rule{
	{"bearer", regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9\-_.~+/]+=*`)},
	{"authorization", regexp.MustCompile(`(?i)(authorization:\s*)(bearer\s+)?[a-zA-Z0-9\-_.~+/]+=*`)},
	{"jwt", regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)},
	{"token", regexp.MustCompile(`(?i)(token["\s:=]+)[a-zA-Z0-9+/]{40,}=*`)},
	{"api-key", regexp.MustCompile(`(?i)(api[_-]?key["\s:=]+)[a-zA-Z0-9\-_.]{20,}`)},
	{"slack", regexp.MustCompile(`xox[abposr]-[a-zA-Z0-9-]{10,}|xapp-[a-zA-Z0-9-]{10,}`)},
	{"openai", regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`)},
	{"aws-access-key", regexp.MustCompile(`AKIA[A-Z0-9]{16}`)},
	{"aws-secret", regexp.MustCompile(`(?i)(aws_secret_access_key["\s:=]+)[a-zA-Z0-9/+=]{20,}`)},
	{"password", regexp.MustCompile(`(?i)(password["\s:=]+)\S+`)},
	{"private-key", regexp.MustCompile(`(?s)-----BEGIN[A-Z ]*PRIVATE KEY-----.*?-----END[A-Z ]*PRIVATE KEY-----`)},
}

// Sanitize replaces every secret-looking value in text with [REDACTED].
func Sanitize(text string) string {
	out := text
	for _, r := range rules {
		re := r.re
		out = re.ReplaceAllStringFunc(out, func(match string) string {
			loc := re.FindStringSubmatchIndex(match)
			if len(loc) >= 4 && loc[2] >= 0 {
				return match[loc[2]:loc[3]] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return out
}

// Findings returns the names of the rules that match text.
func Findings(text string) []string {
	var hits []string
	for _, r := range rules {
		if r.re.MatchString(text) {
			hits = append(hits, r.name)
		}
	}
	return hits
}
