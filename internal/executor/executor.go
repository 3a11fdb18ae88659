/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package executor runs remediation commands against the cluster and checks
// the outcome. Every command passes the safety gate before it reaches the runner.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/autofix/internal/engine"
	"github.com/marcus-qen/autofix/internal/metrics"
	"github.com/marcus-qen/autofix/internal/telemetry"
)

const (
	// DefaultTimeout bounds a single remediation command.
	DefaultTimeout = 60 * time.Second

	// DefaultSettleDelay is how long Verify waits before listing pods.
	DefaultSettleDelay = 3 * time.Second

	// NoPodsFound is the verification text when nothing matches the owner.
	NoPodsFound = "No pods found (restarting?)"

	// VerificationFailed is the verification text when the listing errors.
	VerificationFailed = "Verification failed"

	displayLimit = 300
	summaryLimit = 200
)

// Status is the classification of an execution.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Result is the outcome of one command.
type Result struct {
	Status   Status
	ExitCode int
	Stdout   string
	Stderr   string

	// Output is the human readable result text.
	Output string

	// Err is set when the command was refused or could not be started.
	Err error
}

// Succeeded reports whether the command exited zero.
func (r Result) Succeeded() bool { return r.Status == StatusSuccess }

// Display is Output cut to what fits in a chat message.
func (r Result) Display() string { return truncate(r.Output, displayLimit) }

// ErrorSummary is the single-line failure context stored for the next diagnosis.
func (r Result) ErrorSummary() string {
	return truncate(strings.ReplaceAll(r.Output, "\n", " "), summaryLimit)
}

// CommandRunner executes a command line.
type CommandRunner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (exitCode int, stdout, stderr string, err error)
}

// PodLister lists the pods that belong to a controller.
type PodLister interface {
	ListOwnedPods(ctx context.Context, namespace, owner string) (string, error)
}

// Options configures an Executor.
type Options struct {
	// Verb is the only program commands may invoke.
	Verb string

	Timeout     time.Duration
	SettleDelay time.Duration
}

// Executor runs commands with safety enforcement.
type Executor struct {
	runner CommandRunner
	pods   PodLister
	opts   Options
	log    logr.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Executor. Zero option values take the package defaults.
func New(runner CommandRunner, pods PodLister, opts Options, log logr.Logger) *Executor {
	if opts.Verb == "" {
		opts.Verb = engine.DefaultVerb
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	return &Executor{runner: runner, pods: pods, opts: opts, log: log, sleep: sleepCtx}
}

// Execute runs command if it passes the safety gate.
func (e *Executor) Execute(ctx context.Context, command string) Result {
	ctx, span := telemetry.StartExecuteSpan(ctx, command)

	if err := engine.CheckCommand(e.opts.Verb, command); err != nil {
		e.log.Info("command refused", "command", command, "reason", err.Error())
		metrics.RecordExecution("refused", 0)
		telemetry.EndExecuteSpan(span, string(StatusFailed), -1, true)
		return Result{Status: StatusFailed, ExitCode: -1, Output: e.refusal(err), Err: err}
	}

	start := time.Now()
	code, stdout, stderr, err := e.runner.Run(ctx, command, e.opts.Timeout)
	elapsed := time.Since(start)

	r := e.classify(command, code, stdout, stderr, err, elapsed)
	metrics.RecordExecution(string(r.Status), elapsed)
	telemetry.EndExecuteSpan(span, string(r.Status), r.ExitCode, false)
	return r
}

func (e *Executor) classify(command string, code int, stdout, stderr string, err error, elapsed time.Duration) Result {
	if err != nil {
		e.log.Error(err, "command could not run", "command", command)
		return Result{
			Status:   StatusFailed,
			ExitCode: -1,
			Output:   "EXECUTION ERROR: " + err.Error(),
			Err:      err,
		}
	}

	stdout, stderr = strings.TrimSpace(stdout), strings.TrimSpace(stderr)
	r := Result{ExitCode: code, Stdout: stdout, Stderr: stderr}
	if code == 0 {
		r.Status = StatusSuccess
		r.Output = "SUCCESS\n" + stdout
	} else {
		detail := stderr
		if detail == "" {
			detail = stdout
		}
		r.Status = StatusFailed
		r.Output = fmt.Sprintf("FAILED (Exit Code %d)\nError: %s", code, detail)
	}
	e.log.Info("command executed", "command", command, "exitCode", code, "durationMs", elapsed.Milliseconds())
	return r
}

// Verify waits for the rollout to settle and lists the owner's pods.
func (e *Executor) Verify(ctx context.Context, namespace, owner string) string {
	if err := e.sleep(ctx, e.opts.SettleDelay); err != nil {
		return VerificationFailed
	}
	out, err := e.pods.ListOwnedPods(ctx, namespace, owner)
	if err != nil {
		e.log.Error(err, "verification listing failed", "namespace", namespace, "owner", owner)
		return VerificationFailed
	}
	if strings.TrimSpace(out) == "" {
		return NoPodsFound
	}
	return out
}

func (e *Executor) refusal(err error) string {
	if errors.Is(err, engine.ErrComplexSyntax) {
		return "FAILED: Complex shell syntax not allowed."
	}
	return fmt.Sprintf("Error: Only %s allowed.", e.opts.Verb)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
