/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/slack-go/slack"
)

// Action IDs carried by the approval buttons.
const (
	ApproveActionID = "approve_action"
	RejectActionID  = "reject_action"

	// RejectValue is the fixed value of the reject button.
	RejectValue = "reject"
)

// SlackAPI is the subset of the Slack Web API client used for delivery.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
}

// SlackMessenger renders messages as Block Kit and posts them to one channel.
type SlackMessenger struct {
	api     SlackAPI
	channel string
	log     logr.Logger
}

// NewSlackMessenger creates a Messenger bound to channel.
func NewSlackMessenger(api SlackAPI, channel string, log logr.Logger) *SlackMessenger {
	return &SlackMessenger{api: api, channel: channel, log: log}
}

func (s *SlackMessenger) Post(ctx context.Context, msg Message) (string, string, error) {
	ch, ts, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(Fallback(msg), false),
		slack.MsgOptionBlocks(Blocks(msg)...),
	)
	if err != nil {
		return "", "", fmt.Errorf("slack post %s: %w", msg.Kind, err)
	}
	s.log.V(1).Info("message posted", "kind", msg.Kind, "channel", ch, "ts", ts)
	return ch, ts, nil
}

func (s *SlackMessenger) Update(ctx context.Context, channel, ts string, msg Message) error {
	if channel == "" {
		channel = s.channel
	}
	_, _, _, err := s.api.UpdateMessageContext(ctx, channel, ts,
		slack.MsgOptionText(Fallback(msg), false),
		slack.MsgOptionBlocks(Blocks(msg)...),
	)
	if err != nil {
		return fmt.Errorf("slack update %s: %w", msg.Kind, err)
	}
	return nil
}

// Fallback is the plain text shown in notifications and clients without blocks.
func Fallback(msg Message) string {
	switch msg.Kind {
	case KindAutoFix:
		return "Auto Fix"
	case KindResult:
		return "Result"
	case KindCannotFix:
		return "Cannot fix"
	case KindApprovalRequest:
		return "Approval Needed"
	case KindApprovalOutcome:
		return statusIcon(msg.Succeeded) + " Execution complete"
	case KindRejected:
		return "Rejected"
	default:
		return msg.Text
	}
}

// Blocks renders msg as Block Kit.
func Blocks(msg Message) []slack.Block {
	switch msg.Kind {
	case KindAutoFix:
		return []slack.Block{
			header("🤖 Automatic remediation"),
			section(msg.Explanation),
			section(fmt.Sprintf("🚀 *Running*: `%s`", msg.Command)),
		}
	case KindResult:
		text := fmt.Sprintf("📋 *Result*: %s\n```%s```", statusMark(msg.Succeeded), msg.Output)
		if msg.Verification != "" {
			text += fmt.Sprintf("\n\n🔍 *Status check*\n```%s```", msg.Verification)
		}
		return []slack.Block{section(text)}
	case KindCannotFix:
		return []slack.Block{
			header("⚠️ Cannot remediate (AI verdict)"),
			section(msg.Explanation),
			slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("(Target: `%s`)", msg.Target), false, false)),
		}
	case KindApprovalRequest:
		approve := slack.NewButtonBlockElement(ApproveActionID, msg.Payload,
			slack.NewTextBlockObject(slack.PlainTextType, "✅ Approve & run", false, false)).WithStyle(slack.StylePrimary)
		reject := slack.NewButtonBlockElement(RejectActionID, RejectValue,
			slack.NewTextBlockObject(slack.PlainTextType, "❌ Reject", false, false)).WithStyle(slack.StyleDanger)
		return []slack.Block{
			header("🚨 Approval required"),
			section(msg.Explanation),
			slack.NewDividerBlock(),
			section(fmt.Sprintf("*Proposed command:*\n`%s`", msg.Command)),
			slack.NewActionBlock("", approve, reject),
		}
	case KindApprovalOutcome:
		blocks := []slack.Block{
			section(fmt.Sprintf("🛠️ *Action*: %s (By @%s)", statusIcon(msg.Succeeded), msg.User)),
			section(fmt.Sprintf("`%s`", msg.Command)),
			section(fmt.Sprintf("📋 *Result*:\n```%s```", msg.Output)),
		}
		if msg.Verification != "" {
			blocks = append(blocks, section(fmt.Sprintf("🔍 *Status check*\n```%s```", msg.Verification)))
		}
		return blocks
	case KindRejected:
		return []slack.Block{section(fmt.Sprintf("❌ *Rejected* (By @%s)", msg.User))}
	default:
		return []slack.Block{section(msg.Text)}
	}
}

func header(text string) slack.Block {
	return slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, text, true, false))
}

func section(text string) slack.Block {
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}

func statusMark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

func statusIcon(ok bool) string {
	if ok {
		return "✅ Success"
	}
	return "❌ Failed"
}

// LogMessenger writes messages to the log. It is used when no Slack channel
// is configured; approval requests posted through it can never be resolved.
type LogMessenger struct {
	log logr.Logger
	seq atomic.Int64
}

// NewLogMessenger creates a LogMessenger.
func NewLogMessenger(log logr.Logger) *LogMessenger {
	return &LogMessenger{log: log}
}

func (l *LogMessenger) Post(_ context.Context, msg Message) (string, string, error) {
	ts := strconv.FormatInt(l.seq.Add(1), 10)
	l.log.Info(Fallback(msg), "kind", msg.Kind, "target", msg.Target, "command", msg.Command, "ts", ts)
	return "log", ts, nil
}

func (l *LogMessenger) Update(_ context.Context, _, ts string, msg Message) error {
	l.log.Info(Fallback(msg), "kind", msg.Kind, "ts", ts, "updated", true)
	return nil
}
