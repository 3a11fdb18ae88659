/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package assembler builds the diagnostic query sent to the reasoning service.
// It gathers context about a failing workload (owner, image, warning events,
// recent logs, previous remediation failures) and renders it into the
// configured user prompt template.
package assembler

import (
	"context"
	"strings"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/autofix/internal/shared/security"
	"github.com/marcus-qen/autofix/internal/state"
	"github.com/marcus-qen/autofix/internal/tools"
)

// Placeholders used when a piece of context is missing.
const (
	EmptyLogs        = "Logs are empty."
	NoEvents         = "no notable events"
	NoHistory        = "No previous failures."
	historyPrefix    = "PREVIOUS FAILED: "
	defaultUnknown   = "unknown"
	defaultOwnerKind = "Pod"
)

// ContextSource answers the cluster queries a diagnosis needs.
type ContextSource interface {
	OwnerChain(ctx context.Context, namespace, pod string) (tools.Owner, error)
	WarningEvents(ctx context.Context, namespace, pod string) ([]string, error)
	TailLogs(ctx context.Context, namespace, pod, container string) (string, error)
}

// Request describes the failure to diagnose.
type Request struct {
	Key    state.Key
	Reason string

	// Record is the remediation history of the workload.
	Record state.Record
}

// Diagnosis is the assembled query plus the context needed downstream.
type Diagnosis struct {
	// Query is the rendered user prompt.
	Query string

	// Owner is the resolved container and managing controller.
	Owner tools.Owner

	// Vars are the values substituted into the template.
	Vars map[string]string

	// Warnings lists context that could not be collected.
	Warnings []string
}

// Assembler collects context and renders diagnostic queries.
type Assembler struct {
	source ContextSource
	log    logr.Logger
}

// New creates an Assembler.
func New(src ContextSource, log logr.Logger) *Assembler {
	return &Assembler{source: src, log: log}
}

// Assemble never fails: context that cannot be fetched is replaced by a
// placeholder and reported in Diagnosis.Warnings.
func (a *Assembler) Assemble(ctx context.Context, template string, req Request) *Diagnosis {
	d := &Diagnosis{}
	ns, pod := req.Key.Namespace, req.Key.Name

	owner, err := a.source.OwnerChain(ctx, ns, pod)
	if err != nil {
		d.warn(a.log, err, "owner lookup failed")
	}
	d.Owner = withOwnerDefaults(owner, pod)

	events := NoEvents
	if lines, err := a.source.WarningEvents(ctx, ns, pod); err != nil {
		d.warn(a.log, err, "event lookup failed")
	} else if len(lines) > 0 {
		events = a.redact(strings.Join(lines, "\n"), "events")
	}

	logs := EmptyLogs
	if out, err := a.source.TailLogs(ctx, ns, pod, d.Owner.Container); err != nil {
		d.warn(a.log, err, "log fetch failed")
	} else if strings.TrimSpace(out) != "" {
		logs = a.redact(out, "logs")
	}

	d.Vars = map[string]string{
		"pod_name":        pod,
		"namespace":       ns,
		"error_reason":    req.Reason,
		"container_name":  d.Owner.Container,
		"current_image":   d.Owner.Image,
		"owner_kind":      d.Owner.Kind,
		"owner_name":      d.Owner.Name,
		"k8s_events":      events,
		"pod_logs":        logs,
		"history_context": History(req.Record),
		// Short aliases accepted by the built-in fallback template.
		"pod":   pod,
		"error": req.Reason,
	}
	d.Query = Render(template, d.Vars)
	return d
}

func (a *Assembler) redact(text, source string) string {
	if rules := security.Findings(text); len(rules) > 0 {
		a.log.V(1).Info("redacted secrets from context", "source", source, "rules", rules)
	}
	return security.Sanitize(text)
}

func (d *Diagnosis) warn(log logr.Logger, err error, msg string) {
	d.Warnings = append(d.Warnings, msg+": "+err.Error())
	log.Error(err, msg)
}

func withOwnerDefaults(o tools.Owner, pod string) tools.Owner {
	if o.Container == "" {
		o.Container = defaultUnknown
	}
	if o.Image == "" {
		o.Image = defaultUnknown
	}
	if o.Kind == "" {
		o.Kind = defaultOwnerKind
	}
	if o.Name == "" {
		o.Name = pod
	}
	return o
}

// History renders the previous-failure context for a record.
func History(r state.Record) string {
	if r.ConsecutiveFailures > 0 {
		return historyPrefix + r.LastErrorSummary
	}
	return NoHistory
}

// Render substitutes {name} placeholders in template. Doubled braces render
// as literal braces; unknown placeholders are left untouched.
func Render(template string, vars map[string]string) string {
	pairs := make([]string, 0, 4+2*len(vars))
	pairs = append(pairs, "{{", "{", "}}", "}")
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
