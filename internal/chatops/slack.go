/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package chatops receives operator interactions from Slack over Socket Mode:
// the prompt-editing slash command and modal, and the approve/reject buttons
// on remediation requests.
package chatops

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/marcus-qen/autofix/internal/approval"
	"github.com/marcus-qen/autofix/internal/config"
	"github.com/marcus-qen/autofix/internal/notify"
)

// Identifiers of the prompt-editing modal.
const (
	PromptViewCallbackID = "prompt_edit_view"
	SystemBlockID        = "blk_sys"
	SystemActionID       = "ipt_sys"
	UserBlockID          = "blk_user"
	UserActionID         = "ipt_user"
)

// Reconnect backoff after the socket connection gives up.
const (
	DefaultRetryBackoff = 30 * time.Second
	maxRetryBackoff     = 5 * time.Minute
)

// SlackAPI is the subset of the Web API used by the bot.
type SlackAPI interface {
	OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)
}

// PromptStore reads and saves the editable prompts.
type PromptStore interface {
	Snapshot() config.Snapshot
	SavePrompts(ctx context.Context, system, user string) error
}

// Approver resolves approval button presses.
type Approver interface {
	Approve(ctx context.Context, cb approval.Callback) error
	Reject(ctx context.Context, cb approval.Callback) error
}

type socketClient interface {
	RunContext(ctx context.Context) error
	Ack(req socketmode.Request, payload ...interface{})
}

// SlackBotConfig controls the Socket Mode bot.
type SlackBotConfig struct {
	BotToken string
	AppToken string

	// Command is the slash command that opens the prompt editor.
	Command string

	// RetryBackoff is the first wait before reconnecting a failed socket.
	// It doubles per failure up to five minutes.
	RetryBackoff time.Duration
}

// SlackBot dispatches Socket Mode events. It implements manager.Runnable.
type SlackBot struct {
	cfg       SlackBotConfig
	api       SlackAPI
	socket    socketClient
	events    <-chan socketmode.Event
	prompts   PromptStore
	approvals Approver
	msgr      notify.Messenger
	log       logr.Logger

	wg sync.WaitGroup
}

// NewSlackBot creates a Socket Mode bot runnable.
func NewSlackBot(cfg SlackBotConfig, prompts PromptStore, approvals Approver, msgr notify.Messenger, log logr.Logger) (*SlackBot, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("slack bot token is required")
	}
	if cfg.AppToken == "" {
		return nil, errors.New("slack app token is required for socket mode")
	}
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	socket := socketmode.New(api)
	return &SlackBot{
		cfg:       cfg,
		api:       api,
		socket:    socket,
		events:    socket.Events,
		prompts:   prompts,
		approvals: approvals,
		msgr:      msgr,
		log:       log,
	}, nil
}

// NeedLeaderElection ensures only one replica receives interactions.
func (b *SlackBot) NeedLeaderElection() bool {
	return true
}

// Start runs the Socket Mode connection until context cancellation. A dropped
// or rejected connection is logged and retried; it never stops the manager.
func (b *SlackBot) Start(ctx context.Context) error {
	b.log.Info("Slack bot starting", "command", b.cfg.Command)

	runErr := make(chan error, 1)
	connect := func() { go func() { runErr <- b.socket.RunContext(ctx) }() }
	connect()
	defer b.wg.Wait()

	initial := b.cfg.RetryBackoff
	if initial <= 0 {
		initial = DefaultRetryBackoff
	}
	backoff := initial
	var retry <-chan time.Time
	events := b.events

	for {
		select {
		case <-ctx.Done():
			b.log.Info("Slack bot stopping")
			return nil
		case err := <-runErr:
			if ctx.Err() != nil {
				return nil
			}
			b.log.Error(err, "Slack socket mode connection lost, retrying", "backoff", backoff.String())
			retry = time.After(backoff)
			backoff = min(backoff*2, maxRetryBackoff)
		case <-retry:
			retry = nil
			connect()
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if evt.Type == socketmode.EventTypeConnected {
				backoff = initial
			}
			b.handleEvent(ctx, evt)
		}
	}
}

func (b *SlackBot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.log.Info("connecting to Slack")
	case socketmode.EventTypeConnected:
		b.log.Info("connected to Slack")
	case socketmode.EventTypeConnectionError:
		b.log.Info("Slack connection failed, retrying")
	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		b.ack(evt)
		if err := b.HandleSlashCommand(ctx, cmd); err != nil {
			b.log.Error(err, "slash command failed", "command", cmd.Command, "user", cmd.UserName)
		}
	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		b.ack(evt)
		// Approvals run a command and verify it; keep the event loop free.
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.HandleInteraction(ctx, cb); err != nil {
				b.log.Error(err, "interaction failed", "type", cb.Type, "user", cb.User.ID)
			}
		}()
	}
}

func (b *SlackBot) ack(evt socketmode.Event) {
	if evt.Request != nil {
		b.socket.Ack(*evt.Request)
	}
}

// HandleSlashCommand opens the prompt editor pre-filled with the current prompts.
func (b *SlackBot) HandleSlashCommand(ctx context.Context, cmd slack.SlashCommand) error {
	if b.cfg.Command != "" && cmd.Command != b.cfg.Command {
		return nil
	}
	snap := b.prompts.Snapshot()
	if _, err := b.api.OpenViewContext(ctx, cmd.TriggerID, PromptModal(snap.SystemPrompt, snap.UserPrompt)); err != nil {
		return fmt.Errorf("open prompt editor: %w", err)
	}
	return nil
}

// HandleInteraction routes button presses and modal submissions.
func (b *SlackBot) HandleInteraction(ctx context.Context, cb slack.InteractionCallback) error {
	switch cb.Type {
	case slack.InteractionTypeBlockActions:
		for _, action := range cb.ActionCallback.BlockActions {
			if err := b.handleAction(ctx, cb, action); err != nil {
				return err
			}
		}
		return nil
	case slack.InteractionTypeViewSubmission:
		if cb.View.CallbackID != PromptViewCallbackID {
			return nil
		}
		return b.savePrompts(ctx, cb.View.State)
	default:
		return nil
	}
}

func (b *SlackBot) handleAction(ctx context.Context, cb slack.InteractionCallback, action *slack.BlockAction) error {
	acb := approval.Callback{
		Channel:   cb.Channel.ID,
		MessageTS: cb.Message.Timestamp,
		User:      userName(cb.User),
		Value:     action.Value,
	}
	switch action.ActionID {
	case notify.ApproveActionID:
		if err := b.approvals.Approve(ctx, acb); err != nil && !errors.Is(err, approval.ErrMalformedPayload) {
			return err
		}
	case notify.RejectActionID:
		return b.approvals.Reject(ctx, acb)
	}
	return nil
}

func (b *SlackBot) savePrompts(ctx context.Context, st *slack.ViewState) error {
	system, user := inputValue(st, SystemBlockID, SystemActionID), inputValue(st, UserBlockID, UserActionID)

	text := "✅ *Prompts Updated & Saved!*"
	saveErr := b.prompts.SavePrompts(ctx, system, user)
	if saveErr != nil {
		text = "⚠️ *Save Failed:* " + saveErr.Error()
	}
	if _, _, err := b.msgr.Post(ctx, notify.Message{Kind: notify.KindText, Text: text}); err != nil {
		b.log.Error(err, "prompt save confirmation failed")
	}
	return saveErr
}

// PromptModal builds the prompt editor view.
func PromptModal(system, user string) slack.ModalViewRequest {
	sysInput := slack.NewPlainTextInputBlockElement(nil, SystemActionID)
	sysInput.Multiline = true
	sysInput.InitialValue = system

	userInput := slack.NewPlainTextInputBlockElement(nil, UserActionID)
	userInput.Multiline = true
	userInput.InitialValue = user

	return slack.ModalViewRequest{
		Type:       slack.VTModal,
		CallbackID: PromptViewCallbackID,
		Title:      slack.NewTextBlockObject(slack.PlainTextType, "Prompt Settings", false, false),
		Submit:     slack.NewTextBlockObject(slack.PlainTextType, "Save", false, false),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, "Edit AI Prompts (Live Update)", false, false), nil, nil),
			slack.NewInputBlock(SystemBlockID, slack.NewTextBlockObject(slack.PlainTextType, "System Prompt", false, false), nil, sysInput),
			slack.NewInputBlock(UserBlockID, slack.NewTextBlockObject(slack.PlainTextType, "User Prompt", false, false), nil, userInput),
		}},
	}
}

func inputValue(st *slack.ViewState, blockID, actionID string) string {
	if st == nil {
		return ""
	}
	return st.Values[blockID][actionID].Value
}

func userName(u slack.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
