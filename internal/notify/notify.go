/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package notify delivers remediation messages to the operator channel.
// Callers describe what happened with a Message; the backend decides how it
// is rendered.
package notify

import (
	"context"
	"strconv"
	"sync"
)

// Kind identifies the message layout.
type Kind string

const (
	// KindAutoFix announces a command that is about to run without approval.
	KindAutoFix Kind = "auto_fix"

	// KindResult reports the outcome of an automatic command.
	KindResult Kind = "result"

	// KindCannotFix reports that no actionable command was proposed.
	KindCannotFix Kind = "cannot_fix"

	// KindApprovalRequest asks a human to approve or reject a command.
	KindApprovalRequest Kind = "approval_request"

	// KindApprovalOutcome replaces an approval request after execution.
	KindApprovalOutcome Kind = "approval_outcome"

	// KindRejected replaces an approval request after rejection.
	KindRejected Kind = "rejected"

	// KindText is a plain status line.
	KindText Kind = "text"
)

// Message is a notification to be delivered.
type Message struct {
	Kind Kind

	// Explanation is the reasoning service's analysis.
	Explanation string

	// Command is the proposed or executed command line.
	Command string

	// Target is the owning controller, e.g. "Deployment/web".
	Target string

	// Output is the display text of an execution result.
	Output string

	Succeeded bool

	// Verification is the post-execution pod listing, empty when not verified.
	Verification string

	// Payload is the opaque approval value carried by the approve button.
	Payload string

	// User is the identity that acted on an approval.
	User string

	// Text is the body of a KindText message.
	Text string
}

// Messenger posts and rewrites messages in the operator channel.
type Messenger interface {
	// Post delivers msg and returns its channel and timestamp.
	Post(ctx context.Context, msg Message) (channel, ts string, err error)

	// Update rewrites a previously posted message in place.
	Update(ctx context.Context, channel, ts string, msg Message) error
}

// Recorder is an in-memory Messenger for tests and dry runs.
type Recorder struct {
	mu      sync.Mutex
	posted  []Message
	updated []Message
	err     error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent calls return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Post(_ context.Context, msg Message) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", "", r.err
	}
	r.posted = append(r.posted, msg)
	return "recorder", strconv.Itoa(len(r.posted)), nil
}

func (r *Recorder) Update(_ context.Context, _, _ string, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.updated = append(r.updated, msg)
	return nil
}

// Posted returns a copy of the posted messages.
func (r *Recorder) Posted() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.posted...)
}

// Updated returns a copy of the rewritten messages.
func (r *Recorder) Updated() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.updated...)
}

// Kinds lists the kinds of posted messages in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, 0, len(r.posted))
	for _, m := range r.posted {
		kinds = append(kinds, m.Kind)
	}
	return kinds
}
