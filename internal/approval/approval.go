/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package approval implements the human approval workflow for remediation
// commands that the policy does not allow to run automatically.
//
// A request is posted as an interactive message whose approve button carries
// the encoded Request. The workflow then moves through:
//
//  1. Pending: message posted, no state change
//  2. Approved: command executed, state deleted or incremented, message rewritten
//  3. Rejected: message rewritten, no state change
//
// Approved and Rejected are terminal; repeated callbacks for the same message
// are ignored.
package approval

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/autofix/internal/executor"
	"github.com/marcus-qen/autofix/internal/metrics"
	"github.com/marcus-qen/autofix/internal/notify"
	"github.com/marcus-qen/autofix/internal/state"
	"github.com/marcus-qen/autofix/internal/telemetry"
)

// ErrMalformedPayload is returned when a callback value does not decode.
// Callers treat it as a no-op.
var ErrMalformedPayload = errors.New("malformed approval payload")

const payloadSep = "|"

// Request is the approval triple carried by the approve button.
type Request struct {
	Key     state.Key
	Owner   string
	Command string
}

// Encode renders r as "namespace/pod|owner|command".
func (r Request) Encode() string {
	return r.Key.String() + payloadSep + r.Owner + payloadSep + r.Command
}

// Decode parses a payload produced by Encode. The command may itself
// contain the separator.
func Decode(value string) (Request, error) {
	parts := strings.SplitN(value, payloadSep, 3)
	if len(parts) != 3 {
		return Request{}, ErrMalformedPayload
	}
	key, ok := state.ParseKey(parts[0])
	if !ok {
		return Request{}, ErrMalformedPayload
	}
	return Request{Key: key, Owner: parts[1], Command: parts[2]}, nil
}

// Callback is a button press on an approval message.
type Callback struct {
	Channel   string
	MessageTS string
	User      string
	Value     string
}

// Executor runs and verifies approved commands.
type Executor interface {
	Execute(ctx context.Context, command string) executor.Result
	Verify(ctx context.Context, namespace, owner string) string
}

// Workflow resolves approval callbacks.
type Workflow struct {
	exec  Executor
	store *state.Store
	msgr  notify.Messenger
	log   logr.Logger

	mu       sync.Mutex
	resolved map[string]bool
}

// NewWorkflow creates a Workflow.
func NewWorkflow(exec Executor, store *state.Store, msgr notify.Messenger, log logr.Logger) *Workflow {
	return &Workflow{
		exec:     exec,
		store:    store,
		msgr:     msgr,
		log:      log,
		resolved: make(map[string]bool),
	}
}

// Approve executes the command carried by cb and rewrites the message with
// the result. A malformed payload returns ErrMalformedPayload without side
// effects.
func (w *Workflow) Approve(ctx context.Context, cb Callback) error {
	req, err := Decode(cb.Value)
	if err != nil {
		w.log.Info("ignoring approval callback", "value", cb.Value, "reason", err.Error())
		return err
	}
	if !w.claim(cb) {
		w.log.V(1).Info("approval already resolved", "ts", cb.MessageTS)
		return nil
	}

	ctx, span := telemetry.StartApprovalSpan(ctx, "approved", cb.User)
	defer span.End()
	metrics.RecordApproval("approved")

	log := w.log.WithValues("namespace", req.Key.Namespace, "pod", req.Key.Name, "command", req.Command, "user", cb.User)
	res := w.exec.Execute(ctx, req.Command)

	out := notify.Message{
		Kind:      notify.KindApprovalOutcome,
		Command:   req.Command,
		Output:    res.Display(),
		Succeeded: res.Succeeded(),
		User:      cb.User,
	}
	if res.Succeeded() {
		out.Verification = w.exec.Verify(ctx, req.Key.Namespace, req.Owner)
		w.store.Delete(req.Key)
		log.Info("approved command succeeded")
	} else {
		rec := w.store.IncrementFailure(req.Key, req.Command, res.ErrorSummary())
		log.Info("approved command failed", "consecutiveFailures", rec.ConsecutiveFailures)
	}
	metrics.SetTrackedWorkloads(w.store.Len())

	if err := w.msgr.Update(ctx, cb.Channel, cb.MessageTS, out); err != nil {
		log.Error(err, "approval message rewrite failed")
	}
	return nil
}

// Reject rewrites the message to show who rejected it. State is untouched.
func (w *Workflow) Reject(ctx context.Context, cb Callback) error {
	if !w.claim(cb) {
		return nil
	}
	ctx, span := telemetry.StartApprovalSpan(ctx, "rejected", cb.User)
	defer span.End()
	metrics.RecordApproval("rejected")

	w.log.Info("remediation rejected", "user", cb.User, "ts", cb.MessageTS)
	if err := w.msgr.Update(ctx, cb.Channel, cb.MessageTS, notify.Message{Kind: notify.KindRejected, User: cb.User}); err != nil {
		w.log.Error(err, "rejection message rewrite failed")
	}
	return nil
}

// claim marks the message resolved and reports whether this call won.
func (w *Workflow) claim(cb Callback) bool {
	if cb.MessageTS == "" {
		return true
	}
	id := cb.Channel + "/" + cb.MessageTS
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resolved[id] {
		return false
	}
	w.resolved[id] = true
	return true
}
