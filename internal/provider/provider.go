/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package provider defines the reasoning service abstraction. A provider
// receives a system prompt and a diagnostic query and answers with an
// explanation, optionally calling the shell tool to propose a command.
package provider

import (
	"context"
	"fmt"
)

// Provider is the interface for LLM backends.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Complete sends a completion request and returns the response.
	// The response may contain text content, tool calls, or both.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// CompletionRequest is the input to an LLM completion call.
type CompletionRequest struct {
	// SystemPrompt is the system-level instruction.
	SystemPrompt string

	// Messages is the conversation; a diagnosis is a single user message.
	Messages []Message

	// Tools is the list of functions the LLM may call.
	Tools []ToolDefinition

	// Model is the model ID.
	Model string

	// MaxTokens is the maximum output tokens (0 = provider default).
	MaxTokens int32
}

// Message represents a single message in the conversation.
type Message struct {
	// Role is "user" or "assistant".
	Role string

	Content string
}

// ToolCall represents the LLM requesting execution of a tool.
type ToolCall struct {
	// ID is a unique identifier for this tool call (provider-assigned).
	ID string

	Name string

	// Args is the parsed arguments.
	Args map[string]interface{}

	// RawArgs is the raw JSON arguments string (for logging).
	RawArgs string

	// ArgsErr is set when RawArgs could not be decoded into Args.
	ArgsErr error
}

// ToolDefinition describes a tool the LLM may call.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema for the tool's parameters.
	Parameters map[string]interface{}
}

// CompletionResponse is the output of an LLM completion call.
type CompletionResponse struct {
	// Content is the text response (may be empty if only tool calls).
	Content string

	ToolCalls []ToolCall

	Usage UsageInfo

	// StopReason explains why the LLM stopped generating.
	StopReason string
}

// HasToolCalls returns true if the response contains tool call requests.
func (r *CompletionResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// StringArg returns the first string value of arg across calls to tool.
func (r *CompletionResponse) StringArg(tool, arg string) string {
	for _, tc := range r.ToolCalls {
		if tc.Name != tool {
			continue
		}
		if v, ok := tc.Args[arg].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// UsageInfo reports token consumption for a single completion call.
type UsageInfo struct {
	InputTokens  int64
	OutputTokens int64
}

// TotalTokens returns input + output.
func (u UsageInfo) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// ProviderConfig holds configuration for creating a provider.
type ProviderConfig struct {
	// Type is the provider type: "openai" (any OpenAI-compatible endpoint).
	Type string

	// Endpoint is the API base URL including the version path (empty for default).
	Endpoint string

	APIKey string

	// MaxRetries is the number of retries on transient failure (default 3).
	MaxRetries int

	// TimeoutSeconds is the per-request timeout (default 120).
	TimeoutSeconds int
}

// NewProvider creates a provider from config.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "", "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider type: %q", cfg.Type)
	}
}
