/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package state holds the per-workload remediation memory of the controller.
// Records live for the lifetime of the process: they are created lazily on the
// first failure of a workload and are only dropped by an explicit Delete.
//
// Two stores exist:
//   - Store tracks consecutive failed remediation attempts and the last
//     attempted command, which drives escalation and silencing.
//   - Gate debounces repeated failure reports for the same workload.
//
// Failure events and approval callbacks arrive on independent goroutines, so
// every operation is atomic for its key.
package state

import (
	"strings"
	"sync"
)

// DefaultSilenceThreshold is the failure count at which a workload is ignored.
const DefaultSilenceThreshold = 3

// Key identifies a workload by namespace and name.
type Key struct {
	Namespace string
	Name      string
}

// String renders the key as namespace/name.
func (k Key) String() string {
	return k.Namespace + "/" + k.Name
}

// ParseKey parses a namespace/name string. Namespaces cannot contain a slash,
// so the first slash separates the two parts.
func ParseKey(s string) (Key, bool) {
	ns, name, ok := strings.Cut(s, "/")
	if !ok || ns == "" || name == "" {
		return Key{}, false
	}
	return Key{Namespace: ns, Name: name}, true
}

// Record is a snapshot of the remediation state of one workload.
type Record struct {
	// ConsecutiveFailures counts failed remediation attempts since the last
	// success, or is pinned to the silence threshold once silenced.
	ConsecutiveFailures int

	// LastCommand is the most recently attempted corrective command.
	LastCommand string

	// LastErrorSummary is a truncated description of the last failure.
	LastErrorSummary string
}

// Store is the concurrency-safe map of remediation records.
type Store struct {
	mu        sync.Mutex
	records   map[Key]*Record
	silenceAt int
}

// NewStore creates an empty store. A threshold <= 0 uses DefaultSilenceThreshold.
func NewStore(silenceAt int) *Store {
	if silenceAt <= 0 {
		silenceAt = DefaultSilenceThreshold
	}
	return &Store{
		records:   make(map[Key]*Record),
		silenceAt: silenceAt,
	}
}

// SilenceThreshold returns the failure count at which a workload is silenced.
func (s *Store) SilenceThreshold() int {
	return s.silenceAt
}

// GetOrCreate returns the record for key, creating a zero record if needed.
func (s *Store) GetOrCreate(key Key) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.lookup(key)
}

// Get returns the record for key without creating it.
func (s *Store) Get(key Key) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// IncrementFailure records a failed attempt and returns the updated record.
func (s *Store) IncrementFailure(key Key, command, errorSummary string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.lookup(key)
	r.ConsecutiveFailures++
	r.LastCommand = command
	r.LastErrorSummary = errorSummary
	return *r
}

// Reset clears the failure count after a verified success. The last command
// and error are kept for diagnostics.
func (s *Store) Reset(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup(key).ConsecutiveFailures = 0
}

// Delete drops the record for key, clearing its escalation history.
func (s *Store) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// MarkSilenced pins the failure count to the silence threshold.
func (s *Store) MarkSilenced(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup(key).ConsecutiveFailures = s.silenceAt
}

// Silenced reports whether key has reached the silence threshold.
func (s *Store) Silenced(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	return ok && r.ConsecutiveFailures >= s.silenceAt
}

// Len returns the number of tracked workloads.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// lookup must be called with mu held.
func (s *Store) lookup(key Key) *Record {
	r, ok := s.records[key]
	if !ok {
		r = &Record{}
		s.records[key] = r
	}
	return r
}
