/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package provider

import (
	"context"
	"fmt"
)

const (
	// ShellToolName is the function the model calls to propose a remediation.
	ShellToolName = "execute_shell_command"

	// CommandArg is the argument carrying the proposed command line.
	CommandArg = "command"
)

// ShellTool describes the remediation function offered to the model.
func ShellTool(verb string) ToolDefinition {
	return ToolDefinition{
		Name:        ShellToolName,
		Description: fmt.Sprintf("Run a single %s command to remediate the failing workload.", verb),
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				CommandArg: map[string]interface{}{
					"type":        "string",
					"description": fmt.Sprintf("Full command line starting with %q.", verb),
				},
			},
			"required": []string{CommandArg},
		},
	}
}

// DiagnoseRequest is a single-shot diagnostic query.
type DiagnoseRequest struct {
	Model        string
	SystemPrompt string
	Query        string
	Verb         string
}

// Verdict is the reasoning service's answer.
type Verdict struct {
	// Explanation is the free-text analysis.
	Explanation string

	// Command is the tool call argument, empty when the model only wrote text.
	Command string

	Usage UsageInfo
}

// Diagnose asks p for an explanation and, optionally, a remediation command.
func Diagnose(ctx context.Context, p Provider, req DiagnoseRequest) (*Verdict, error) {
	resp, err := p.Complete(ctx, &CompletionRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     []Message{{Role: "user", Content: req.Query}},
		Tools:        []ToolDefinition{ShellTool(req.Verb)},
		Model:        req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", p.Name(), err)
	}
	command := resp.StringArg(ShellToolName, CommandArg)
	if command == "" && resp.HasToolCalls() {
		for _, tc := range resp.ToolCalls {
			if tc.Name == ShellToolName && tc.ArgsErr != nil {
				return nil, fmt.Errorf("%s tool call: %w", p.Name(), tc.ArgsErr)
			}
		}
	}
	return &Verdict{
		Explanation: resp.Content,
		Command:     command,
		Usage:       resp.Usage,
	}, nil
}
