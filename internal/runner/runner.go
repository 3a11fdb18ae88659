/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package runner orchestrates one remediation attempt per detected failure:
// debounce → escalation check → diagnostic query → action extraction →
// policy decision → execution or approval request.
//
// This is the central flow:
//  1. Drop the failure if the workload was handled within the cooldown
//  2. Stop quietly if the workload is silenced
//  3. Assemble context and ask the reasoning service for a fix
//  4. Extract a command and pick a branch (silence, deny, auto, approval)
//  5. Act on the branch and record the outcome in the state store
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/autofix/internal/approval"
	"github.com/marcus-qen/autofix/internal/assembler"
	"github.com/marcus-qen/autofix/internal/config"
	"github.com/marcus-qen/autofix/internal/engine"
	"github.com/marcus-qen/autofix/internal/executor"
	"github.com/marcus-qen/autofix/internal/metrics"
	"github.com/marcus-qen/autofix/internal/notify"
	"github.com/marcus-qen/autofix/internal/provider"
	"github.com/marcus-qen/autofix/internal/state"
	"github.com/marcus-qen/autofix/internal/telemetry"
)

// Failure is a classified workload failure.
type Failure struct {
	Key    state.Key
	Reason string
}

// Outcome is how a pipeline run ended.
type Outcome string

const (
	OutcomeDebounced         Outcome = "debounced"
	OutcomeSilenced          Outcome = "silenced"
	OutcomeCannotFix         Outcome = "cannot_fix"
	OutcomeDenied            Outcome = "denied"
	OutcomeAutoSucceeded     Outcome = "auto_succeeded"
	OutcomeAutoFailed        Outcome = "auto_failed"
	OutcomeApprovalRequested Outcome = "approval_requested"
	OutcomeError             Outcome = "error"
)

// ConfigSource supplies the current prompts and lists.
type ConfigSource interface {
	Snapshot() config.Snapshot
}

// Executor runs and verifies remediation commands.
type Executor interface {
	Execute(ctx context.Context, command string) executor.Result
	Verify(ctx context.Context, namespace, owner string) string
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Gate      *state.Gate
	Store     *state.Store
	Assembler *assembler.Assembler
	Provider  provider.Provider
	Executor  Executor
	Messenger notify.Messenger
	Config    ConfigSource
}

// Options tune a Runner.
type Options struct {
	// Model is passed to the reasoning service.
	Model string

	// Verb is the program every remediation command must invoke.
	Verb string
}

// Runner executes the remediation pipeline.
type Runner struct {
	deps      Deps
	opts      Options
	extractor *engine.Extractor
	log       logr.Logger
}

// New creates a Runner.
func New(deps Deps, opts Options, log logr.Logger) *Runner {
	if opts.Verb == "" {
		opts.Verb = engine.DefaultVerb
	}
	return &Runner{
		deps:      deps,
		opts:      opts,
		extractor: engine.NewExtractor(opts.Verb),
		log:       log,
	}
}

// Handle runs the pipeline for f. It never panics: internal errors are
// logged, reported as an "Internal Error" message and returned.
func (r *Runner) Handle(ctx context.Context, f Failure) (outcome Outcome, err error) {
	log := r.log.WithValues("namespace", f.Key.Namespace, "pod", f.Key.Name, "reason", f.Reason)

	ctx, span := telemetry.StartPipelineSpan(ctx, f.Key.Namespace, f.Key.Name, f.Reason)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
			log.Error(err, "recovered from panic", "stack", string(debug.Stack()))
		}
		if err != nil {
			outcome = OutcomeError
			metrics.PipelineErrorsTotal.Inc()
			log.Error(err, "remediation pipeline failed")
			r.post(ctx, log, notify.Message{Kind: notify.KindText, Text: "⚠️ *Internal Error:* " + err.Error()})
		}
		telemetry.EndPipelineSpan(span, string(outcome), err)
	}()

	return r.run(ctx, log, f)
}

func (r *Runner) run(ctx context.Context, log logr.Logger, f Failure) (Outcome, error) {
	metrics.RecordFailure(f.Reason)

	if !r.deps.Gate.Allow(f.Key) {
		metrics.DebounceSuppressedTotal.Inc()
		log.V(1).Info("failure within cooldown, skipping")
		return OutcomeDebounced, nil
	}

	rec := r.deps.Store.GetOrCreate(f.Key)
	metrics.SetTrackedWorkloads(r.deps.Store.Len())
	if r.deps.Store.Silenced(f.Key) {
		metrics.SilencedTotal.Inc()
		log.V(1).Info("workload silenced, skipping", "consecutiveFailures", rec.ConsecutiveFailures)
		return OutcomeSilenced, nil
	}
	log.Info("failure detected")

	snap := r.deps.Config.Snapshot()

	asmCtx, asmSpan := telemetry.StartAssemblySpan(ctx)
	diag := r.deps.Assembler.Assemble(asmCtx, snap.UserPrompt, assembler.Request{Key: f.Key, Reason: f.Reason, Record: rec})
	asmSpan.End()
	log = log.WithValues("owner", diag.Owner.String())

	llmCtx, llmSpan := telemetry.StartLLMCallSpan(ctx, r.opts.Model, r.deps.Provider.Name())
	verdict, err := provider.Diagnose(llmCtx, r.deps.Provider, provider.DiagnoseRequest{
		Model:        r.opts.Model,
		SystemPrompt: snap.SystemPrompt,
		Query:        diag.Query,
		Verb:         r.opts.Verb,
	})
	if err != nil {
		llmSpan.End()
		return OutcomeError, fmt.Errorf("diagnose %s: %w", f.Key, err)
	}
	telemetry.EndLLMCallSpan(llmSpan, verdict.Usage.InputTokens, verdict.Usage.OutputTokens, verdict.Command != "")
	metrics.RecordTokens(r.opts.Model, verdict.Usage.TotalTokens())

	action := r.extractor.Extract(verdict.Command, verdict.Explanation)
	decision := engine.Decide(action.Command, f.Reason, snap.AllowList, snap.BlockList)
	metrics.RecordDecision(string(decision.Branch))
	log = log.WithValues("branch", decision.Branch, "command", action.Command)

	switch decision.Branch {
	case engine.BranchSilence:
		r.deps.Store.MarkSilenced(f.Key)
		log.Info("no actionable command, silencing workload")
		r.post(ctx, log, notify.Message{
			Kind:        notify.KindCannotFix,
			Explanation: action.Explanation,
			Target:      diag.Owner.String(),
		})
		return OutcomeCannotFix, nil

	case engine.BranchDeny:
		log.Info("command denied by block list", "rule", decision.MatchedRule)
		return OutcomeDenied, nil

	case engine.BranchAuto:
		return r.autoFix(ctx, log, f, diag, action), nil

	default:
		payload := approval.Request{Key: f.Key, Owner: diag.Owner.Name, Command: action.Command}.Encode()
		log.Info("requesting approval")
		r.post(ctx, log, notify.Message{
			Kind:        notify.KindApprovalRequest,
			Explanation: action.Explanation,
			Command:     action.Command,
			Target:      diag.Owner.String(),
			Payload:     payload,
		})
		return OutcomeApprovalRequested, nil
	}
}

func (r *Runner) autoFix(ctx context.Context, log logr.Logger, f Failure, diag *assembler.Diagnosis, action engine.Action) Outcome {
	r.post(ctx, log, notify.Message{
		Kind:        notify.KindAutoFix,
		Explanation: action.Explanation,
		Command:     action.Command,
		Target:      diag.Owner.String(),
	})

	start := time.Now()
	res := r.deps.Executor.Execute(ctx, action.Command)
	log = log.WithValues("status", res.Status, "durationMs", time.Since(start).Milliseconds())

	if !res.Succeeded() {
		rec := r.deps.Store.IncrementFailure(f.Key, action.Command, res.ErrorSummary())
		log.Info("automatic remediation failed", "consecutiveFailures", rec.ConsecutiveFailures)
		r.post(ctx, log, notify.Message{Kind: notify.KindResult, Output: res.Display()})
		return OutcomeAutoFailed
	}

	r.deps.Store.Reset(f.Key)
	verification := r.deps.Executor.Verify(ctx, f.Key.Namespace, diag.Owner.Name)
	log.Info("automatic remediation succeeded")
	r.post(ctx, log, notify.Message{
		Kind:         notify.KindResult,
		Output:       res.Display(),
		Succeeded:    true,
		Verification: verification,
	})
	return OutcomeAutoSucceeded
}

// post delivers msg; messaging failures never abort the pipeline.
func (r *Runner) post(ctx context.Context, log logr.Logger, msg notify.Message) {
	if r.deps.Messenger == nil {
		return
	}
	if _, _, err := r.deps.Messenger.Post(ctx, msg); err != nil {
		log.Error(err, "notification failed", "kind", msg.Kind)
	}
}
