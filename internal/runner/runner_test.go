/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/marcus-qen/autofix/internal/approval"
	"github.com/marcus-qen/autofix/internal/assembler"
	"github.com/marcus-qen/autofix/internal/config"
	"github.com/marcus-qen/autofix/internal/executor"
	"github.com/marcus-qen/autofix/internal/notify"
	"github.com/marcus-qen/autofix/internal/provider"
	"github.com/marcus-qen/autofix/internal/state"
	"github.com/marcus-qen/autofix/internal/tools"
)

const restartD1 = "kubectl rollout restart deployment/d1"

type clusterStub struct{}

func (clusterStub) OwnerChain(context.Context, string, string) (tools.Owner, error) {
	return tools.Owner{Container: "app", Image: "app:1.0", Kind: "Deployment", Name: "d1"}, nil
}

func (clusterStub) WarningEvents(context.Context, string, string) ([]string, error) {
	return []string{"[BackOff] Back-off restarting failed container"}, nil
}

func (clusterStub) TailLogs(context.Context, string, string, string) (string, error) {
	return "panic: missing DATABASE_URL", nil
}

type staticConfig struct{ snap config.Snapshot }

func (c staticConfig) Snapshot() config.Snapshot { return c.snap }

type scriptedExecutor struct {
	mu       sync.Mutex
	results  []executor.Result
	executed []string
	verified []string
}

func (s *scriptedExecutor) Execute(_ context.Context, command string) executor.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, command)
	if len(s.results) == 0 {
		return executor.Result{Status: executor.StatusSuccess, Output: "SUCCESS\n"}
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r
}

func (s *scriptedExecutor) Verify(_ context.Context, namespace, owner string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified = append(s.verified, namespace+"/"+owner)
	return "d1-abc 1/1 Running 0"
}

// shellStub stands in for the process runner behind a real executor.
type shellStub struct {
	mu    sync.Mutex
	calls []string
}

func (s *shellStub) Run(_ context.Context, command string, _ time.Duration) (int, string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, command)
	return 0, "ok", "", nil
}

type panicProvider struct{}

func (panicProvider) Complete(context.Context, *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	panic("nil map write")
}

func (panicProvider) Name() string { return "panic" }

func commandResponses(n int, explanation, command string) *provider.MockProvider {
	responses := make([]*provider.CompletionResponse, n)
	errs := make([]error, n)
	for i := range responses {
		resp := &provider.CompletionResponse{Content: explanation}
		if command != "" {
			resp.ToolCalls = []provider.ToolCall{{
				Name: provider.ShellToolName,
				Args: map[string]interface{}{provider.CommandArg: command},
			}}
		}
		responses[i] = resp
	}
	return provider.NewMockProvider(responses, errs)
}

type harness struct {
	store *state.Store
	msgr  *notify.Recorder
	exec  *scriptedExecutor
	llm   provider.Provider
	r     *Runner
}

func newHarness(llm provider.Provider, cooldown time.Duration, snap config.Snapshot, exec Executor) *harness {
	h := &harness{
		store: state.NewStore(state.DefaultSilenceThreshold),
		msgr:  notify.NewRecorder(),
		llm:   llm,
	}
	if exec == nil {
		h.exec = &scriptedExecutor{}
		exec = h.exec
	}
	if snap.UserPrompt == "" {
		snap.UserPrompt = "Pod {pod_name} in {namespace}: {error_reason}. Owner {owner_kind}/{owner_name}. {history_context}"
	}
	h.r = New(Deps{
		Gate:      state.NewGate(cooldown),
		Store:     h.store,
		Assembler: assembler.New(clusterStub{}, logr.Discard()),
		Provider:  llm,
		Executor:  exec,
		Messenger: h.msgr,
		Config:    staticConfig{snap: snap},
	}, Options{Model: "test-model"}, logr.Discard())
	return h
}

var p1 = Failure{Key: state.Key{Namespace: "ns1", Name: "p1"}, Reason: "CrashLoopBackOff"}

var _ = Describe("Remediation pipeline", func() {
	ctx := context.Background()

	Context("when the failure reason is on the allow-list", func() {
		It("executes automatically and resets the failure counter", func() {
			h := newHarness(provider.NewMockProviderCommand("The config is stale.", restartD1), time.Minute,
				config.Snapshot{AllowList: []string{"CrashLoopBackOff"}}, nil)
			h.store.IncrementFailure(p1.Key, "kubectl old", "FAILED before")
			h.store.IncrementFailure(p1.Key, "kubectl old", "FAILED before")

			out, err := h.r.Handle(ctx, p1)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(OutcomeAutoSucceeded))

			rec, ok := h.store.Get(p1.Key)
			Expect(ok).To(BeTrue())
			Expect(rec.ConsecutiveFailures).To(Equal(0))

			Expect(h.exec.executed).To(Equal([]string{restartD1}))
			Expect(h.exec.verified).To(Equal([]string{"ns1/d1"}))
			Expect(h.msgr.Kinds()).To(Equal([]notify.Kind{notify.KindAutoFix, notify.KindResult}))
			result := h.msgr.Posted()[1]
			Expect(result.Succeeded).To(BeTrue())
			Expect(result.Verification).To(ContainSubstring("d1-abc"))
		})

		It("records failed executions and silences after three", func() {
			failed := executor.Result{Status: executor.StatusFailed, Output: "FAILED (Exit Code 1)\nError: forbidden"}
			exec := &scriptedExecutor{results: []executor.Result{failed, failed, failed}}
			llm := commandResponses(3, "Restart it.", restartD1)
			h := newHarness(llm, 0, config.Snapshot{AllowList: []string{"CrashLoop"}}, exec)

			for i := 1; i <= 3; i++ {
				out, err := h.r.Handle(ctx, p1)
				Expect(err).NotTo(HaveOccurred())
				Expect(out).To(Equal(OutcomeAutoFailed))
				rec, _ := h.store.Get(p1.Key)
				Expect(rec.ConsecutiveFailures).To(Equal(i))
				Expect(rec.LastErrorSummary).To(Equal("FAILED (Exit Code 1) Error: forbidden"))
			}
			posted := len(h.msgr.Posted())

			out, err := h.r.Handle(ctx, p1)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(OutcomeSilenced))
			Expect(h.msgr.Posted()).To(HaveLen(posted))
			Expect(llm.CallCount()).To(Equal(3))
		})

		It("feeds the previous failure into the next diagnostic query", func() {
			llm := commandResponses(1, "Retry.", restartD1)
			h := newHarness(llm, 0, config.Snapshot{AllowList: []string{"CrashLoopBackOff"}}, nil)
			h.store.IncrementFailure(p1.Key, restartD1, "FAILED (Exit Code 1) Error: quota")

			_, err := h.r.Handle(ctx, p1)
			Expect(err).NotTo(HaveOccurred())
			req := llm.LastRequest()
			Expect(req).NotTo(BeNil())
			Expect(req.Messages[0].Content).To(ContainSubstring("PREVIOUS FAILED: FAILED (Exit Code 1) Error: quota"))
			Expect(req.Messages[0].Content).To(ContainSubstring("Owner Deployment/d1"))
		})

		It("never runs unsafe commands", func() {
			shell := &shellStub{}
			exec := executor.New(shell, nil, executor.Options{}, logr.Discard())
			llm := commandResponses(1, "Clean up.", "kubectl delete pod $(kubectl get pods -o name)")
			h := newHarness(llm, time.Minute, config.Snapshot{AllowList: []string{"CrashLoopBackOff"}}, exec)

			out, err := h.r.Handle(ctx, p1)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(OutcomeAutoFailed))
			Expect(shell.calls).To(BeEmpty())

			rec, _ := h.store.Get(p1.Key)
			Expect(rec.ConsecutiveFailures).To(Equal(1))
			Expect(rec.LastErrorSummary).To(Equal("FAILED: Complex shell syntax not allowed."))
		})

		It("never runs commands chained after the verb", func() {
			for _, command := range []string{
				"kubectl version; touch /tmp/marker",
				"kubectl version && touch /tmp/marker",
				"kubectl version\ntouch /tmp/marker",
				"kubectl get pods | sh",
				"kubectl get pods > /etc/passwd",
			} {
				shell := &shellStub{}
				exec := executor.New(shell, nil, executor.Options{}, logr.Discard())
				h := newHarness(commandResponses(1, "Check.", command), time.Minute,
					config.Snapshot{AllowList: []string{"CrashLoopBackOff"}}, exec)

				out, err := h.r.Handle(ctx, p1)
				Expect(err).NotTo(HaveOccurred())
				Expect(out).To(Equal(OutcomeAutoFailed), command)
				Expect(shell.calls).To(BeEmpty(), command)
			}
		})
	})

	Context("when the failure reason is not on the allow-list", func() {
		It("requests approval and a rejection leaves state untouched", func() {
			h := newHarness(provider.NewMockProviderCommand("Restart the deployment.", restartD1), time.Minute, config.Snapshot{}, nil)

			out, err := h.r.Handle(ctx, p1)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(OutcomeApprovalRequested))
			Expect(h.exec.executed).To(BeEmpty())

			posted := h.msgr.Posted()
			Expect(posted).To(HaveLen(1))
			Expect(posted[0].Kind).To(Equal(notify.KindApprovalRequest))
			Expect(posted[0].Payload).To(Equal("ns1/p1|d1|kubectl rollout restart deployment/d1"))

			before, _ := h.store.Get(p1.Key)
			wf := approval.NewWorkflow(h.exec, h.store, h.msgr, logr.Discard())
			Expect(wf.Reject(ctx, approval.Callback{Channel: "C1", MessageTS: "1", User: "alice", Value: notify.RejectValue})).To(Succeed())
			after, _ := h.store.Get(p1.Key)
			Expect(after).To(Equal(before))
			Expect(h.exec.executed).To(BeEmpty())
		})

		It("executes the carried command when approved", func() {
			h := newHarness(provider.NewMockProviderCommand("Restart the deployment.", restartD1), time.Minute, config.Snapshot{}, nil)
			_, err := h.r.Handle(ctx, p1)
			Expect(err).NotTo(HaveOccurred())

			wf := approval.NewWorkflow(h.exec, h.store, h.msgr, logr.Discard())
			Expect(wf.Approve(ctx, approval.Callback{Channel: "C1", MessageTS: "1", User: "bob", Value: h.msgr.Posted()[0].Payload})).To(Succeed())

			Expect(h.exec.executed).To(Equal([]string{restartD1}))
			_, tracked := h.store.Get(p1.Key)
			Expect(tracked).To(BeFalse())
		})
	})

	Context("when the block-list matches", func() {
		It("denies silently without touching state", func() {
			h := newHarness(provider.NewMockProviderCommand("Nuke it.", "kubectl delete namespace ns1"), time.Minute,
				config.Snapshot{AllowList: []string{"CrashLoopBackOff"}, BlockList: []string{"delete namespace"}}, nil)

			out, err := h.r.Handle(ctx, p1)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(OutcomeDenied))
			Expect(h.msgr.Posted()).To(BeEmpty())
			Expect(h.exec.executed).To(BeEmpty())
			rec, _ := h.store.Get(p1.Key)
			Expect(rec.ConsecutiveFailures).To(Equal(0))
		})
	})

	Context("when no command can be extracted", func() {
		It("silences the workload and stops asking", func() {
			llm := provider.NewMockProviderSimple("The image registry is down; nothing to do in-cluster.")
			h := newHarness(llm, 0, config.Snapshot{AllowList: []string{"CrashLoopBackOff"}}, nil)

			out, err := h.r.Handle(ctx, p1)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(OutcomeCannotFix))
			Expect(h.store.Silenced(p1.Key)).To(BeTrue())

			posted := h.msgr.Posted()
			Expect(posted).To(HaveLen(1))
			Expect(posted[0].Kind).To(Equal(notify.KindCannotFix))
			Expect(posted[0].Target).To(Equal("Deployment/d1"))

			out, err = h.r.Handle(ctx, p1)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(OutcomeSilenced))
			Expect(llm.CallCount()).To(Equal(1))
			Expect(h.msgr.Posted()).To(HaveLen(1))
		})

		It("extracts a command from the explanation text", func() {
			llm := provider.NewMockProviderSimple("fix:\n```kubectl rollout restart deployment/x```")
			h := newHarness(llm, time.Minute, config.Snapshot{}, nil)

			out, err := h.r.Handle(ctx, p1)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(OutcomeApprovalRequested))
			Expect(h.msgr.Posted()[0].Command).To(Equal("kubectl rollout restart deployment/x"))
		})
	})

	Context("debounce", func() {
		It("processes a workload at most once per cooldown", func() {
			llm := commandResponses(2, "Restart.", restartD1)
			h := newHarness(llm, time.Hour, config.Snapshot{}, nil)

			out, _ := h.r.Handle(ctx, p1)
			Expect(out).To(Equal(OutcomeApprovalRequested))
			out, _ = h.r.Handle(ctx, p1)
			Expect(out).To(Equal(OutcomeDebounced))
			Expect(llm.CallCount()).To(Equal(1))

			other := Failure{Key: state.Key{Namespace: "ns2", Name: "p1"}, Reason: "OOMKilled"}
			out, _ = h.r.Handle(ctx, other)
			Expect(out).To(Equal(OutcomeApprovalRequested))
		})
	})

	Context("internal errors", func() {
		It("reports reasoning service failures", func() {
			llm := provider.NewMockProvider([]*provider.CompletionResponse{nil}, []error{errors.New("quota exceeded")})
			h := newHarness(llm, time.Minute, config.Snapshot{}, nil)

			out, err := h.r.Handle(ctx, p1)
			Expect(err).To(HaveOccurred())
			Expect(out).To(Equal(OutcomeError))
			posted := h.msgr.Posted()
			Expect(posted).To(HaveLen(1))
			Expect(posted[0].Kind).To(Equal(notify.KindText))
			Expect(posted[0].Text).To(ContainSubstring("Internal Error"))
			Expect(posted[0].Text).To(ContainSubstring("quota exceeded"))
		})

		It("reports undecodable tool arguments instead of silencing", func() {
			llm := provider.NewMockProvider([]*provider.CompletionResponse{{
				Content: "Restart it.",
				ToolCalls: []provider.ToolCall{{
					Name:    provider.ShellToolName,
					RawArgs: `{"command":"kubectl rollout`,
					ArgsErr: errors.New("decode execute_shell_command arguments: unexpected end of JSON input"),
				}},
			}}, []error{nil})
			h := newHarness(llm, 0, config.Snapshot{}, nil)

			out, err := h.r.Handle(ctx, p1)
			Expect(err).To(HaveOccurred())
			Expect(out).To(Equal(OutcomeError))
			Expect(h.store.Silenced(p1.Key)).To(BeFalse())
			Expect(h.msgr.Posted()[0].Text).To(ContainSubstring("unexpected end of JSON input"))
		})

		It("recovers from panics", func() {
			h := newHarness(panicProvider{}, time.Minute, config.Snapshot{}, nil)

			var (
				out Outcome
				err error
			)
			Expect(func() { out, err = h.r.Handle(ctx, p1) }).NotTo(Panic())
			Expect(out).To(Equal(OutcomeError))
			Expect(err).To(HaveOccurred())
			Expect(strings.Contains(err.Error(), "nil map write")).To(BeTrue())
		})

		It("keeps going when messaging fails", func() {
			h := newHarness(provider.NewMockProviderCommand("Restart.", restartD1), time.Minute,
				config.Snapshot{AllowList: []string{"CrashLoopBackOff"}}, nil)
			h.msgr.FailWith(errors.New("slack down"))

			out, err := h.r.Handle(ctx, p1)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(OutcomeAutoSucceeded))
			Expect(h.exec.executed).To(HaveLen(1))
		})
	})
})
