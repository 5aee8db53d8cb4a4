package session

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/tendwatch/tendwatch/internal/archival"
	"github.com/tendwatch/tendwatch/internal/bus"
	"github.com/tendwatch/tendwatch/internal/channels"
	"github.com/tendwatch/tendwatch/internal/config"
	"github.com/tendwatch/tendwatch/internal/corememory"
	"github.com/tendwatch/tendwatch/internal/projection"
	"github.com/tendwatch/tendwatch/internal/providers"
	"github.com/tendwatch/tendwatch/internal/tools"
	"github.com/tendwatch/tendwatch/internal/trust"
	"github.com/tendwatch/tendwatch/internal/usage"
	"github.com/tendwatch/tendwatch/internal/worker"
)

// noopSentinel is the silent-token the assistant emits when it deliberately
// has nothing to say, e.g. a scheduled check that decided not to interrupt.
const noopSentinel = "NOOP"

// maxToolIterations bounds the tool-call loop within a single turn so a
// misbehaving model can't spin forever burning provider calls.
const maxToolIterations = 8

// ModelChoice pairs a constructed provider with the model name the
// orchestrator should request from it.
type ModelChoice struct {
	Provider providers.Provider
	Model    string
}

// Orchestrator implements spec.md §4.7's per-message pipeline: slash
// commands, the pending-approval short-circuit, transcript repair, system
// prompt assembly, the LLM fallback chain, the trust-gated tool loop, and
// output post-processing. One Orchestrator serves every user; per-user
// state lives in Sessions and the per-user stores passed to HandleMessage.
type Orchestrator struct {
	Config   *config.Config
	Chain    []ModelChoice // primary first, then fallbacks in priority order
	Gate     *trust.Gate
	Tools    *tools.Registry
	Core     *corememory.Store
	Projects *projection.Store
	Archival *archival.Store
	Workers  *worker.Registry
	Channels *channels.Manager
	Sessions *Manager
	History  *History
	Usage    *usage.Ledger

	// Now overrides the clock for tests; nil uses time.Now.
	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// HandleMessage implements queue.ProcessFunc: the single entry point the
// per-channel queue calls for every (possibly merged) inbound message.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg bus.InboundMessage) error {
	userID := string(msg.Platform) + ":" + msg.ChatID
	sess := o.Sessions.GetOrCreate(userID)
	text := strings.TrimSpace(msg.Content)

	o.logHistory(userID, msg, "user", text)

	// Step 1: slash command short-circuit.
	if strings.HasPrefix(text, "/") {
		if reply, handled := o.handleSlashCommand(userID, sess, text); handled {
			return o.send(ctx, msg, reply)
		}
	}

	// Step 2: pending-approval short-circuit.
	if _, ok := o.Gate.Pending(userID); ok {
		reply := trust.ClassifyReply(text)
		if reply != trust.ReplyUnrecognised {
			toolName, err := o.Gate.Resolve(userID, reply)
			if err != nil {
				return o.send(ctx, msg, "Couldn't save that approval: "+err.Error())
			}
			return o.send(ctx, msg, approvalReplyText(reply, toolName))
		}
		// Ambiguous reply: the pending approval ends with this message, so
		// clear it and fall through to the LLM.
		o.Gate.ClearPending(userID)
	}

	if ch, ok := o.Channels.Get(string(msg.Platform)); ok {
		_ = ch.SendTyping(ctx, msg.ChatID)
	}

	// Step 3: transcript repair.
	repaired, counts := Repair(sess.SnapshotMessages(), o.Config.Agent.Name)
	if counts.Total() > 0 {
		slog.Warn("session: transcript repair applied",
			"user", userID,
			"missing", counts.MissingResults,
			"duplicate", counts.DuplicateResults,
			"orphan", counts.OrphanResults,
			"reordered", counts.ReorderedResults,
		)
	}
	sess.SetMessages(repaired)

	sess.AppendMessage(providers.Message{Role: "user", Content: text})

	// Step 4: reload system prompt.
	systemPrompt, err := o.buildSystemPrompt(ctx, userID)
	if err != nil {
		slog.Error("session: building system prompt failed", "user", userID, "error", err)
		return o.send(ctx, msg, "I hit an internal error putting together context. Please try again.")
	}

	req := providers.ChatRequest{
		Messages: append([]providers.Message{{Role: "system", Content: systemPrompt}}, sess.SnapshotMessages()...),
		Tools:    o.Tools.Definitions(),
	}

	finalText, err := o.runTurn(ctx, userID, sess, req, text)
	if err != nil {
		slog.Error("session: turn failed", "user", userID, "error", err)
		return o.send(ctx, msg, "Sorry, I ran into a problem talking to the model. Please try again shortly.")
	}

	// Step 8: silent NOOP token.
	if strings.TrimSpace(finalText) == noopSentinel {
		return nil
	}
	if finalText == "" {
		return nil
	}
	return o.send(ctx, msg, finalText)
}

// runTurn drives steps 5 (fallback-chain LLM invocation) and 6 (the
// trust-gated tool loop), returning the assistant's final text.
func (o *Orchestrator) runTurn(ctx context.Context, userID string, sess *Session, req providers.ChatRequest, lastUserText string) (string, error) {
	var finalText string

	for iter := 0; iter < maxToolIterations; iter++ {
		resp, modelName, fallbacksUsed, err := o.completeWithFallback(ctx, req)
		if err != nil {
			return "", err
		}
		if fallbacksUsed > 0 {
			slog.Warn("session: LLM fallback chain consumed", "user", userID, "model", modelName, "fallbacks_used", fallbacksUsed)
		}

		assistantMsg := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		sess.AppendMessage(assistantMsg)
		req.Messages = append(req.Messages, assistantMsg)

		if o.Usage != nil && resp.Usage != nil {
			_ = o.Usage.Append(usage.Record{
				Timestamp:    o.now(),
				UserID:       userID,
				Model:        modelName,
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			})
		}

		if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) == 0 {
			finalText = stripReasoningTags(resp.Content)
			break
		}

		for _, call := range resp.ToolCalls {
			result := o.executeTool(ctx, userID, call, lastUserText)
			toolMsg := providers.Message{Role: "tool", ToolCallID: call.ID, Content: result}
			sess.AppendMessage(toolMsg)
			req.Messages = append(req.Messages, toolMsg)
		}
	}

	return finalText, nil
}

// completeWithFallback tries each provider in Chain order, advancing on a
// transport error or a finish_reason of "error", per spec.md §4.7 step 5.
func (o *Orchestrator) completeWithFallback(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, string, int, error) {
	if len(o.Chain) == 0 {
		return nil, "", 0, fmt.Errorf("session: no providers configured")
	}

	var lastErr error
	for i, choice := range o.Chain {
		attempt := req
		attempt.Model = choice.Model
		resp, err := choice.Provider.Chat(ctx, attempt)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", choice.Provider.Name(), err)
			continue
		}
		if resp.FinishReason == "error" {
			lastErr = fmt.Errorf("%s: model returned finish_reason=error", choice.Provider.Name())
			continue
		}
		return resp, choice.Provider.Name(), i, nil
	}
	return nil, "", 0, fmt.Errorf("session: all providers in fallback chain failed: %w", lastErr)
}

// executeTool implements step 6: trust gate check, optional per-call
// guardrail, then execution. Tool failures never propagate as Go errors —
// they become a structured result the LLM observes, per spec.md §7.
func (o *Orchestrator) executeTool(ctx context.Context, userID string, call providers.ToolCall, lastUserText string) string {
	decision, spec := o.Gate.Check(userID, call.Name)
	if decision == trust.DecisionDenied {
		return fmt.Sprintf(`{"error":"permission required","tool":%q,"capabilities":%v}`, call.Name, spec.Capabilities)
	}

	if o.Gate.Guardrail != nil && spec.Level == trust.LevelElevated {
		verdict := o.Gate.Guardrail(call.Name, call.Arguments, lastUserText)
		if verdict != trust.VerdictAllow {
			return fmt.Sprintf(`{"error":"blocked by guardrail","tool":%q,"verdict":%q}`, call.Name, verdict)
		}
	}

	t, ok := o.Tools.Get(call.Name)
	if !ok {
		return fmt.Sprintf(`{"error":"unknown tool %q"}`, call.Name)
	}
	result := t.Execute(ctx, call.Arguments)
	return result.ForLLM
}

// buildSystemPrompt assembles the per-turn system prompt: agent identity,
// current time, core memory, and the upcoming projections list, per
// spec.md §4.7 step 4.
func (o *Orchestrator) buildSystemPrompt(ctx context.Context, userID string) (string, error) {
	var b strings.Builder

	name := o.Config.Agent.Name
	if name == "" {
		name = "tendwatch"
	}
	fmt.Fprintf(&b, "You are %s.\n", name)
	if o.Config.Agent.SystemPrompt != "" {
		b.WriteString(o.Config.Agent.SystemPrompt)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current UTC time: %s.\n", o.now().UTC().Format("2006-01-02 15:04"))

	if o.Core != nil {
		core, err := o.Core.Read()
		if err != nil {
			return "", fmt.Errorf("read core memory: %w", err)
		}
		if core != "" {
			b.WriteString("\n# Core memory\n")
			b.WriteString(core)
			b.WriteString("\n")
		}
	}

	if o.Projects != nil {
		upcoming, err := o.Projects.GetUpcoming(ctx, 30)
		if err != nil {
			return "", fmt.Errorf("list upcoming projections: %w", err)
		}
		if len(upcoming) > 0 {
			b.WriteString("\n# Upcoming commitments\n")
			for _, p := range upcoming {
				when := p.FormatResolvedWhen()
				if when == "" {
					when = "unscheduled"
				}
				fmt.Fprintf(&b, "- [%s] %s (%s)\n", p.ID, p.Summary, when)
			}
		}
	}

	b.WriteString("\nIf a scheduled check finds nothing worth surfacing, reply with exactly NOOP and nothing else.\n")
	return b.String(), nil
}

// handleSlashCommand implements step 1. Returns (reply, true) if text was a
// recognised slash command.
func (o *Orchestrator) handleSlashCommand(userID string, sess *Session, text string) (string, bool) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "/clear", "/restart":
		o.Sessions.Clear(userID)
		return "History cleared. Starting fresh.", true

	case "/memory":
		if o.Core == nil {
			return "Core memory isn't configured.", true
		}
		core, err := o.Core.Read()
		if err != nil {
			return "Couldn't read core memory: " + err.Error(), true
		}
		if core == "" {
			return "Core memory is empty.", true
		}
		return core, true

	case "/log":
		return fmt.Sprintf("This session has %d messages so far.", len(sess.SnapshotMessages())), true

	case "/help":
		return "Commands: /clear, /memory, /log, /restart, /workers, /help", true

	case "/workers":
		if o.Workers == nil {
			return "No worker registry configured.", true
		}
		list := o.Workers.List()
		if len(list) == 0 {
			return "No workers running.", true
		}
		var b strings.Builder
		for _, w := range list {
			fmt.Fprintf(&b, "%s: %s (%s)\n", w.ID, w.Task, w.Status)
		}
		return strings.TrimRight(b.String(), "\n"), true
	}

	return "", false
}

// approvalReplyText renders the trust gate's handshake outcome back to the
// user in plain language.
func approvalReplyText(reply trust.ReplyKind, toolName string) string {
	if toolName == "" {
		return "I don't have a pending approval waiting right now."
	}
	switch reply {
	case trust.ReplyAllowOnce:
		return fmt.Sprintf("Got it, allowing %s this once.", toolName)
	case trust.ReplyAllowAlways:
		return fmt.Sprintf("Got it, %s is now always allowed.", toolName)
	default:
		return fmt.Sprintf("Okay, not running %s.", toolName)
	}
}

// reasoningTagPattern strips <think>...</think>-style blocks some models
// leak into their visible content, per spec.md §4.7 step 7.
var reasoningTagPattern = regexp.MustCompile(`(?is)<think>.*?</think>`)

func stripReasoningTags(text string) string {
	return strings.TrimSpace(reasoningTagPattern.ReplaceAllString(text, ""))
}

// send delivers text to the channel msg arrived on, and logs it to the
// conversation audit trail.
func (o *Orchestrator) send(ctx context.Context, msg bus.InboundMessage, text string) error {
	userID := string(msg.Platform) + ":" + msg.ChatID
	o.logHistory(userID, msg, "assistant", text)

	ch, ok := o.Channels.Get(string(msg.Platform))
	if !ok {
		return fmt.Errorf("session: no channel registered for platform %q", msg.Platform)
	}
	_, err := ch.SendMessage(ctx, msg.ChatID, text, nil)
	return err
}

func (o *Orchestrator) logHistory(userID string, msg bus.InboundMessage, role, content string) {
	if o.History == nil || content == "" {
		return
	}
	_ = o.History.Append(HistoryEntry{
		Role:      role,
		Content:   content,
		Timestamp: o.now(),
		UserID:    userID,
		Channel:   string(msg.Platform),
	})
}
