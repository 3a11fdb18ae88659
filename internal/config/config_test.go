/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestDefault(t *testing.T) {
	s := Default()
	if s.ConfigDir != "/etc/ai-prompts" || s.Verb != "kubectl" || s.SilenceThreshold != 3 {
		t.Errorf("Default = %+v", s)
	}
	if s.Cooldown != 60*time.Second || s.ExecTimeout != 60*time.Second || s.VerifyDelay != 3*time.Second {
		t.Errorf("Default durations = %+v", s)
	}
	if s.PromptConfigMap.Name != "ai-sre-prompt-config" || s.PromptConfigMap.Namespace != "default" {
		t.Errorf("Default configmap = %+v", s.PromptConfigMap)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Default should validate: %v", err)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autofix.yaml")
	content := `
configDir: /srv/prompts
cooldown: 30s
silenceThreshold: 5
slack:
  channel: C-file
  command: /fix
llm:
  model: llama3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SLACK_CHANNEL", "C-env")
	t.Setenv("AUTOFIX_LLM_MODEL", "gpt-4o")
	t.Setenv("MODEL_NAME", "ignored-when-autofix-set")
	t.Setenv("AUTOFIX_EXEC_TIMEOUT", "90s")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if s.ConfigDir != "/srv/prompts" || s.Cooldown != 30*time.Second || s.SilenceThreshold != 5 {
		t.Errorf("file values not applied: %+v", s)
	}
	if s.Slack.Channel != "C-env" || s.Slack.Command != "/fix" {
		t.Errorf("slack = %+v", s.Slack)
	}
	if s.LLM.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", s.LLM.Model)
	}
	if s.ExecTimeout != 90*time.Second {
		t.Errorf("exec timeout = %s", s.ExecTimeout)
	}
	if s.VerifyDelay != 3*time.Second {
		t.Errorf("unset values should keep defaults, verifyDelay = %s", s.VerifyDelay)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	t.Setenv("AUTOFIX_COOLDOWN", "soon")
	if _, err := Load(""); err == nil {
		t.Error("expected error for bad duration")
	}
	t.Setenv("AUTOFIX_COOLDOWN", "")

	t.Setenv("AUTOFIX_SILENCE_THRESHOLD", "0")
	if _, err := Load(""); err == nil {
		t.Error("expected validation error for zero threshold")
	}
}

func TestHasSlack(t *testing.T) {
	s := Default()
	if s.HasSlack() || s.HasSocketMode() {
		t.Error("default settings should not enable Slack")
	}
	s.Slack.BotToken, s.Slack.Channel = "xoxb-1", "C1"
	if !s.HasSlack() || s.HasSocketMode() {
		t.Error("bot token + channel enables posting only")
	}
	s.Slack.AppToken = "xapp-1"
	if !s.HasSocketMode() {
		t.Error("app token enables socket mode")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestParseList(t *testing.T) {
	got := ParseList("CrashLoopBackOff\n\n  OOMKilled  \r\n\t\n")
	want := []string{"CrashLoopBackOff", "OOMKilled"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseList = %q, want %q", got, want)
	}
	if got := ParseList(""); len(got) != 0 {
		t.Errorf("ParseList(empty) = %q", got)
	}
}

func TestStore_DefaultsWhenMissing(t *testing.T) {
	s := NewStore(t.TempDir(), Default().PromptConfigMap, nil, logr.Discard())
	snap := s.Snapshot()
	if snap.SystemPrompt != DefaultSystemPrompt || snap.UserPrompt != DefaultUserPrompt {
		t.Errorf("prompts = %q / %q", snap.SystemPrompt, snap.UserPrompt)
	}
	if len(snap.AllowList) != 0 || len(snap.BlockList) != 0 {
		t.Errorf("lists should be empty: %+v", snap)
	}
}

func TestStore_LoadAndReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, SystemPromptFile, "You are an SRE.")
	writeFile(t, dir, UserPromptFile, "Pod {pod_name} failed")
	writeFile(t, dir, AllowListFile, "CrashLoopBackOff\n")
	writeFile(t, dir, BlockListFile, "delete namespace\n--all\n")

	s := NewStore(dir, Default().PromptConfigMap, nil, logr.Discard())
	snap := s.Snapshot()
	if snap.SystemPrompt != "You are an SRE." || snap.UserPrompt != "Pod {pod_name} failed" {
		t.Errorf("prompts = %+v", snap)
	}
	if !reflect.DeepEqual(snap.BlockList, []string{"delete namespace", "--all"}) {
		t.Errorf("block list = %q", snap.BlockList)
	}

	writeFile(t, dir, AllowListFile, "CrashLoopBackOff\nImagePullBackOff\n")
	s.Reload()
	if got := s.Snapshot().AllowList; len(got) != 2 {
		t.Errorf("allow list after reload = %q", got)
	}

	snap.AllowList[0] = "mutated"
	if s.Snapshot().AllowList[0] != "CrashLoopBackOff" {
		t.Error("Snapshot must return a copy")
	}
}

func TestStore_OverrideUntilFileChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, SystemPromptFile, "file system")
	writeFile(t, dir, UserPromptFile, "file user")
	s := NewStore(dir, Default().PromptConfigMap, nil, logr.Discard())

	err := s.SavePrompts(context.Background(), "edited system", "edited user")
	if !errors.Is(err, ErrPromptStoreUnavailable) {
		t.Errorf("SavePrompts without client = %v", err)
	}
	if got := s.Snapshot(); got.SystemPrompt != "edited system" || got.UserPrompt != "edited user" {
		t.Errorf("override not applied: %+v", got)
	}

	s.Reload()
	if got := s.Snapshot(); got.SystemPrompt != "edited system" {
		t.Errorf("unchanged file must not clear override: %+v", got)
	}

	writeFile(t, dir, UserPromptFile, "new file user")
	s.Reload()
	got := s.Snapshot()
	if got.UserPrompt != "new file user" {
		t.Errorf("changed file should win: %q", got.UserPrompt)
	}
	if got.SystemPrompt != "edited system" {
		t.Errorf("other override should survive: %q", got.SystemPrompt)
	}
}

func TestStore_SavePromptsPatchesConfigMap(t *testing.T) {
	ref := Default().PromptConfigMap
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: ref.Name, Namespace: ref.Namespace},
		Data: map[string]string{
			SystemPromptFile: "old",
			UserPromptFile:   "old",
			AllowListFile:    "CrashLoopBackOff",
		},
	}
	cs := fake.NewSimpleClientset(cm)
	s := NewStore(t.TempDir(), ref, cs, logr.Discard())

	if err := s.SavePrompts(context.Background(), "sys v2", "user v2"); err != nil {
		t.Fatalf("SavePrompts error: %v", err)
	}
	got, err := cs.CoreV1().ConfigMaps(ref.Namespace).Get(context.Background(), ref.Name, metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Data[SystemPromptFile] != "sys v2" || got.Data[UserPromptFile] != "user v2" {
		t.Errorf("data = %v", got.Data)
	}
	if got.Data[AllowListFile] != "CrashLoopBackOff" {
		t.Error("merge patch must keep other keys")
	}
}

func TestStore_SavePromptsCreatesMissingConfigMap(t *testing.T) {
	ref := PromptConfigMapRef{Name: "prompts", Namespace: "ops"}
	cs := fake.NewSimpleClientset()
	s := NewStore(t.TempDir(), ref, cs, logr.Discard())

	if err := s.SavePrompts(context.Background(), "a", "b"); err != nil {
		t.Fatalf("SavePrompts error: %v", err)
	}
	got, err := cs.CoreV1().ConfigMaps("ops").Get(context.Background(), "prompts", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("configmap not created: %v", err)
	}
	if got.Data[UserPromptFile] != "b" {
		t.Errorf("data = %v", got.Data)
	}
}

func TestReloader_PicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, BlockListFile, "delete\n")
	s := NewStore(dir, Default().PromptConfigMap, nil, logr.Discard())
	r := NewReloader(s, logr.Discard())
	r.settle = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		writeFile(t, dir, BlockListFile, "delete\ndrain\n")
		time.Sleep(50 * time.Millisecond)
		if len(s.Snapshot().BlockList) == 2 {
			return
		}
	}
	t.Fatalf("block list not reloaded: %q", s.Snapshot().BlockList)
}

func TestReloader_MissingDirDoesNotFail(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent"), Default().PromptConfigMap, nil, logr.Discard())
	r := NewReloader(s, logr.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Start(ctx); err != nil {
		t.Errorf("Start = %v, want nil", err)
	}
}
