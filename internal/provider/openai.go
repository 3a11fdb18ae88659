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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider calls OpenAI-compatible chat completion APIs.
// Works with OpenAI, Ollama, vLLM, Vertex AI's OpenAI endpoint, etc.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
	backoff    time.Duration
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" && cfg.Endpoint == "" {
		return nil, errors.New("openai provider needs an API key or a custom endpoint")
	}

	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 120
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		oc.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(oc),
		maxRetries: maxRetries,
		backoff:    time.Second,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	apiReq := buildChatRequest(req)

	var (
		apiResp openai.ChatCompletionResponse
		err     error
	)
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(math.Pow(2, float64(attempt-1))) * p.backoff
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		apiResp, err = p.client.CreateChatCompletion(ctx, apiReq)
		if err == nil || !retryable(err) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	return parseChatResponse(&apiResp), nil
}

func buildChatRequest(req *CompletionRequest) openai.ChatCompletionRequest {
	apiReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: int(req.MaxTokens),
	}

	if req.SystemPrompt != "" {
		apiReq.Messages = append(apiReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return apiReq
}

func parseChatResponse(apiResp *openai.ChatCompletionResponse) *CompletionResponse {
	choice := apiResp.Choices[0]
	resp := &CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: UsageInfo{
			InputTokens:  int64(apiResp.Usage.PromptTokens),
			OutputTokens: int64(apiResp.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		call := ToolCall{
			ID:      tc.ID,
			Name:    tc.Function.Name,
			RawArgs: tc.Function.Arguments,
		}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Args); err != nil {
				call.ArgsErr = fmt.Errorf("decode %s arguments %q: %w", tc.Function.Name, tc.Function.Arguments, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, call)
	}
	return resp
}

// retryable reports whether err is a rate limit or server-side failure.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}
