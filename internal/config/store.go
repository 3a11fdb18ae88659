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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
)

// Files read from the configuration directory.
const (
	SystemPromptFile = "system_prompt.txt"
	UserPromptFile   = "user_prompt_template.txt"
	AllowListFile    = "auto_fix_allowlist.txt"
	BlockListFile    = "blocked_commands.txt"
)

// Fallback prompts used when the files are missing.
const (
	DefaultSystemPrompt = "You are a helpful Kubernetes assistant."
	DefaultUserPrompt   = "Fix pod {pod} error {error}"
)

// ErrPromptStoreUnavailable is returned by SavePrompts when no cluster client
// is configured. The in-memory prompts are still updated.
var ErrPromptStoreUnavailable = errors.New("prompt store unavailable")

// Snapshot is a consistent view of the remediation configuration.
type Snapshot struct {
	SystemPrompt string
	UserPrompt   string
	AllowList    []string
	BlockList    []string
}

// Store holds the current prompts and lists. Prompt edits override the file
// content in memory until the corresponding file changes.
type Store struct {
	dir       string
	configMap PromptConfigMapRef
	clientset kubernetes.Interface
	log       logr.Logger

	mu             sync.RWMutex
	snap           Snapshot
	fileSystem     string
	fileUser       string
	overrideSystem *string
	overrideUser   *string
}

// NewStore creates a Store and loads dir. clientset may be nil, in which case
// prompt edits are kept in memory only.
func NewStore(dir string, cm PromptConfigMapRef, clientset kubernetes.Interface, log logr.Logger) *Store {
	s := &Store{dir: dir, configMap: cm, clientset: clientset, log: log}
	s.Reload()
	return s
}

// Dir returns the watched configuration directory.
func (s *Store) Dir() string { return s.dir }

// Reload re-reads every file. A prompt file whose content changed replaces
// any in-memory override.
func (s *Store) Reload() {
	system, sysOK := s.readFile(SystemPromptFile)
	user, userOK := s.readFile(UserPromptFile)
	allow := s.readList(AllowListFile)
	block := s.readList(BlockListFile)

	if !sysOK {
		system = DefaultSystemPrompt
	}
	if !userOK {
		user = DefaultUserPrompt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if system != s.fileSystem {
		s.overrideSystem = nil
	}
	if user != s.fileUser {
		s.overrideUser = nil
	}
	s.fileSystem, s.fileUser = system, user
	s.snap = Snapshot{
		SystemPrompt: pick(s.overrideSystem, system),
		UserPrompt:   pick(s.overrideUser, user),
		AllowList:    allow,
		BlockList:    block,
	}
	s.log.V(1).Info("configuration loaded", "allow", len(allow), "block", len(block))
}

// Snapshot returns the current configuration.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.AllowList = append([]string(nil), s.snap.AllowList...)
	snap.BlockList = append([]string(nil), s.snap.BlockList...)
	return snap
}

// SavePrompts replaces both prompts in memory and persists them to the
// prompt ConfigMap with a merge patch, creating it if missing.
func (s *Store) SavePrompts(ctx context.Context, system, user string) error {
	s.mu.Lock()
	s.overrideSystem, s.overrideUser = &system, &user
	s.snap.SystemPrompt, s.snap.UserPrompt = system, user
	s.mu.Unlock()

	if s.clientset == nil {
		return ErrPromptStoreUnavailable
	}

	data := map[string]string{SystemPromptFile: system, UserPromptFile: user}
	patch, err := json.Marshal(map[string]interface{}{"data": data})
	if err != nil {
		return fmt.Errorf("encode prompt patch: %w", err)
	}
	cms := s.clientset.CoreV1().ConfigMaps(s.configMap.Namespace)
	_, err = cms.Patch(ctx, s.configMap.Name, types.MergePatchType, patch, metav1.PatchOptions{})
	if apierrors.IsNotFound(err) {
		_, err = cms.Create(ctx, &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: s.configMap.Name, Namespace: s.configMap.Namespace},
			Data:       data,
		}, metav1.CreateOptions{})
	}
	if err != nil {
		return fmt.Errorf("persist prompts to configmap %s/%s: %w", s.configMap.Namespace, s.configMap.Name, err)
	}
	s.log.Info("prompts saved", "configmap", s.configMap.Namespace+"/"+s.configMap.Name)
	return nil
}

func (s *Store) readFile(name string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Error(err, "config file unreadable", "file", name)
		}
		return "", false
	}
	return string(data), true
}

func (s *Store) readList(name string) []string {
	data, ok := s.readFile(name)
	if !ok {
		return nil
	}
	return ParseList(data)
}

// ParseList splits line-delimited content, trimming lines and dropping blanks.
func ParseList(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func pick(override *string, fallback string) string {
	if override != nil {
		return *override
	}
	return fallback
}
