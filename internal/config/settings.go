/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package config provides the controller's process settings and the
// hot-reloadable remediation configuration (prompts, allow-list, block-list).
//
// Settings sources (in priority order): flags > env vars > config file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds process-level configuration.
type Settings struct {
	// ConfigDir holds the prompt and list files (default "/etc/ai-prompts").
	ConfigDir string `yaml:"configDir"`

	// PromptConfigMap is where edited prompts are persisted.
	PromptConfigMap PromptConfigMapRef `yaml:"promptConfigMap"`

	// SelfName is the pod name substring identifying this controller.
	SelfName string `yaml:"selfName"`

	// Verb is the only program remediation commands may invoke.
	Verb string `yaml:"verb"`

	Cooldown         time.Duration `yaml:"cooldown"`
	SilenceThreshold int           `yaml:"silenceThreshold"`
	ExecTimeout      time.Duration `yaml:"execTimeout"`
	VerifyDelay      time.Duration `yaml:"verifyDelay"`
	EventPacing      time.Duration `yaml:"eventPacing"`
	ReconnectBackoff time.Duration `yaml:"reconnectBackoff"`

	Slack SlackSettings `yaml:"slack"`
	LLM   LLMSettings   `yaml:"llm"`

	// OTLPEndpoint enables tracing when set.
	OTLPEndpoint string `yaml:"otlpEndpoint"`
}

// PromptConfigMapRef names the ConfigMap backing the prompt files.
type PromptConfigMapRef struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
}

// SlackSettings configures the messaging surface.
type SlackSettings struct {
	BotToken string `yaml:"botToken"`
	AppToken string `yaml:"appToken"`
	Channel  string `yaml:"channel"`
	Command  string `yaml:"command"`
}

// LLMSettings configures the reasoning service.
type LLMSettings struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"baseURL"`
	APIKey   string `yaml:"apiKey"`
	Model    string `yaml:"model"`

	MaxRetries     int `yaml:"maxRetries"`
	TimeoutSeconds int `yaml:"timeoutSeconds"`
}

// Default returns settings with the stock values.
func Default() Settings {
	return Settings{
		ConfigDir:        "/etc/ai-prompts",
		PromptConfigMap:  PromptConfigMapRef{Name: "ai-sre-prompt-config", Namespace: "default"},
		SelfName:         "ai-sre",
		Verb:             "kubectl",
		Cooldown:         60 * time.Second,
		SilenceThreshold: 3,
		ExecTimeout:      60 * time.Second,
		VerifyDelay:      3 * time.Second,
		EventPacing:      time.Second,
		ReconnectBackoff: 5 * time.Second,
		Slack:            SlackSettings{Command: "/gke"},
		LLM:              LLMSettings{Provider: "openai", Model: "gpt-4o-mini"},
	}
}

// Load reads settings from an optional YAML file, then overlays environment
// variables.
func Load(path string) (Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("read settings: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("parse settings: %w", err)
		}
	}

	if err := s.applyEnv(); err != nil {
		return s, err
	}
	return s, s.Validate()
}

func (s *Settings) applyEnv() error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	str(&s.ConfigDir, "AUTOFIX_CONFIG_DIR")
	str(&s.PromptConfigMap.Name, "AUTOFIX_PROMPT_CONFIGMAP")
	str(&s.PromptConfigMap.Namespace, "AUTOFIX_PROMPT_NAMESPACE")
	str(&s.SelfName, "AUTOFIX_SELF_NAME")
	str(&s.Verb, "AUTOFIX_VERB")
	str(&s.Slack.BotToken, "AUTOFIX_SLACK_BOT_TOKEN", "SLACK_BOT_TOKEN")
	str(&s.Slack.AppToken, "AUTOFIX_SLACK_APP_TOKEN", "SLACK_APP_TOKEN")
	str(&s.Slack.Channel, "AUTOFIX_SLACK_CHANNEL", "SLACK_CHANNEL")
	str(&s.Slack.Command, "AUTOFIX_SLACK_COMMAND", "SLACK_COMMAND")
	str(&s.LLM.Provider, "AUTOFIX_LLM_PROVIDER")
	str(&s.LLM.BaseURL, "AUTOFIX_LLM_BASE_URL", "OPENAI_BASE_URL")
	str(&s.LLM.APIKey, "AUTOFIX_LLM_API_KEY", "OPENAI_API_KEY")
	str(&s.LLM.Model, "AUTOFIX_LLM_MODEL", "MODEL_NAME")
	str(&s.OTLPEndpoint, "AUTOFIX_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"AUTOFIX_COOLDOWN", &s.Cooldown},
		{"AUTOFIX_EXEC_TIMEOUT", &s.ExecTimeout},
		{"AUTOFIX_VERIFY_DELAY", &s.VerifyDelay},
		{"AUTOFIX_EVENT_PACING", &s.EventPacing},
		{"AUTOFIX_RECONNECT_BACKOFF", &s.ReconnectBackoff},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	if v := os.Getenv("AUTOFIX_SILENCE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse AUTOFIX_SILENCE_THRESHOLD: %w", err)
		}
		s.SilenceThreshold = n
	}
	return nil
}

// Validate rejects settings the controller cannot run with.
func (s Settings) Validate() error {
	if s.Verb == "" {
		return fmt.Errorf("verb must not be empty")
	}
	if s.SilenceThreshold <= 0 {
		return fmt.Errorf("silenceThreshold must be positive, got %d", s.SilenceThreshold)
	}
	if s.Cooldown < 0 || s.ExecTimeout <= 0 || s.VerifyDelay < 0 || s.EventPacing < 0 || s.ReconnectBackoff < 0 {
		return fmt.Errorf("durations must not be negative and execTimeout must be positive")
	}
	return nil
}

// HasSlack reports whether outbound messaging is configured.
func (s Settings) HasSlack() bool {
	return s.Slack.BotToken != "" && s.Slack.Channel != ""
}

// HasSocketMode reports whether inbound interactions can be received.
func (s Settings) HasSocketMode() bool {
	return s.HasSlack() && s.Slack.AppToken != ""
}
