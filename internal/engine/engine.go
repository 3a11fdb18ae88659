/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package engine implements the remediation policy: the enforcement layer
// between a command proposed by the reasoning service and its execution.
//
// Every proposed action passes through the engine before anything runs:
//  1. Extract a candidate command from the model response (Extractor)
//  2. Decide the branch: silence, deny, auto-execute or request approval (Decide)
//  3. Check the command syntax right before execution (CheckCommand)
//
// Branch precedence is fixed: silence > deny > auto > approval.
package engine

import "strings"

// Branch is the outcome of a policy decision.
type Branch string

const (
	// BranchSilence means no actionable command was proposed. The workload is
	// silenced and a "cannot remediate" notice is sent.
	BranchSilence Branch = "silence"

	// BranchDeny means the command matched the block-list. Nothing is
	// executed, recorded or announced.
	BranchDeny Branch = "deny"

	// BranchAuto means the failure reason is on the allow-list and the command
	// runs without human approval.
	BranchAuto Branch = "auto"

	// BranchApproval means the command is posted for human approval.
	BranchApproval Branch = "approval"
)

// Decision is the result of evaluating a proposed command.
type Decision struct {
	Branch Branch

	// MatchedRule is the allow- or block-list entry that selected the branch.
	MatchedRule string
}

// Decide applies the block-list, then the allow-list, to a proposed command.
// Block-list entries are matched against the command; allow-list entries are
// matched against the failure reason. Both are case-sensitive substrings and
// an empty list matches nothing.
func Decide(command, reason string, allowList, blockList []string) Decision {
	if strings.TrimSpace(command) == "" {
		return Decision{Branch: BranchSilence}
	}
	if rule, ok := matchAny(command, blockList); ok {
		return Decision{Branch: BranchDeny, MatchedRule: rule}
	}
	if rule, ok := matchAny(reason, allowList); ok {
		return Decision{Branch: BranchAuto, MatchedRule: rule}
	}
	return Decision{Branch: BranchApproval}
}

func matchAny(s string, entries []string) (string, bool) {
	for _, e := range entries {
		if e != "" && strings.Contains(s, e) {
			return e, true
		}
	}
	return "", false
}
