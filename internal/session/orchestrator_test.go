package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendwatch/tendwatch/internal/bus"
	"github.com/tendwatch/tendwatch/internal/channels"
	"github.com/tendwatch/tendwatch/internal/config"
	"github.com/tendwatch/tendwatch/internal/providers"
	"github.com/tendwatch/tendwatch/internal/tools"
	"github.com/tendwatch/tendwatch/internal/trust"
)

// fakeChannel captures every send for assertions, grounded on the Channel
// interface in internal/channels rather than spinning up a real adapter.
type fakeChannel struct {
	*channels.BaseChannel
	sent []string
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{BaseChannel: channels.NewBaseChannel(name, nil)}
}

func (f *fakeChannel) Start(context.Context) error { return nil }
func (f *fakeChannel) Stop(context.Context) error  { return nil }
func (f *fakeChannel) SendMessage(_ context.Context, _ string, text string, _ *channels.SendOptions) (string, error) {
	f.sent = append(f.sent, text)
	return "1", nil
}
func (f *fakeChannel) SendTyping(context.Context, string) error { return nil }
func (f *fakeChannel) SendApprovalRequest(context.Context, string, string, string, time.Duration) (channels.ApprovalResult, error) {
	return channels.ApprovalDeny, nil
}

// fakeProvider returns a scripted sequence of responses, one per call,
// optionally failing, to exercise the fallback chain and tool loop.
type fakeProvider struct {
	name      string
	responses []*providers.ChatResponse
	errs      []error
	calls     int
}

func (p *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return &providers.ChatResponse{Content: "done", FinishReason: "stop"}, nil
}
func (p *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}
func (p *fakeProvider) DefaultModel() string { return "fake-model" }
func (p *fakeProvider) Name() string         { return p.name }

func newOrchestrator(t *testing.T, chain []ModelChoice) (*Orchestrator, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel("telegram")
	mgr := channels.NewManager()
	mgr.Register(ch)

	gate, err := trust.NewGate(filepath.Join(t.TempDir(), "approvals.json"), []trust.ToolSpec{
		{Name: "shell_exec", Level: trust.LevelElevated, Capabilities: []trust.Capability{trust.CapabilityShell}},
	})
	require.NoError(t, err)

	return &Orchestrator{
		Config:   config.Default(),
		Chain:    chain,
		Gate:     gate,
		Tools:    tools.NewRegistry(),
		Channels: mgr,
		Sessions: NewManager(),
	}, ch
}

func TestHandleMessage_SlashClear(t *testing.T) {
	o, ch := newOrchestrator(t, nil)
	userID := "telegram:123"
	sess := o.Sessions.GetOrCreate(userID)
	sess.AppendMessage(providers.Message{Role: "user", Content: "hello"})

	err := o.HandleMessage(context.Background(), bus.InboundMessage{Platform: bus.PlatformTelegram, ChatID: "123", Content: "/clear"})
	require.NoError(t, err)

	assert.Empty(t, o.Sessions.GetOrCreate(userID).SnapshotMessages())
	assert.Contains(t, ch.sent[len(ch.sent)-1], "cleared")
}

func TestHandleMessage_NoopSuppressesSend(t *testing.T) {
	chain := []ModelChoice{{Provider: &fakeProvider{name: "p1", responses: []*providers.ChatResponse{
		{Content: "NOOP", FinishReason: "stop"},
	}}, Model: "m1"}}
	o, ch := newOrchestrator(t, chain)

	err := o.HandleMessage(context.Background(), bus.InboundMessage{Platform: bus.PlatformTelegram, ChatID: "123", Content: "anything"})
	require.NoError(t, err)
	assert.Empty(t, ch.sent)
}

func TestHandleMessage_FallbackChainAdvancesOnError(t *testing.T) {
	primary := &fakeProvider{name: "primary", errs: []error{errors.New("connection refused")}}
	fallback := &fakeProvider{name: "fallback", responses: []*providers.ChatResponse{
		{Content: "hello from fallback", FinishReason: "stop"},
	}}
	chain := []ModelChoice{{Provider: primary, Model: "m1"}, {Provider: fallback, Model: "m2"}}
	o, ch := newOrchestrator(t, chain)

	err := o.HandleMessage(context.Background(), bus.InboundMessage{Platform: bus.PlatformTelegram, ChatID: "123", Content: "hi"})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "hello from fallback", ch.sent[0])
}

func TestHandleMessage_ElevatedToolDeniedReportsPermissionRequired(t *testing.T) {
	provider := &fakeProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "shell_exec", Arguments: map[string]interface{}{}}}, FinishReason: "tool_calls"},
		{Content: "it's blocked", FinishReason: "stop"},
	}}
	chain := []ModelChoice{{Provider: provider, Model: "m1"}}
	o, ch := newOrchestrator(t, chain)

	err := o.HandleMessage(context.Background(), bus.InboundMessage{Platform: bus.PlatformTelegram, ChatID: "123", Content: "run ls"})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "it's blocked", ch.sent[0])

	var toolResult string
	for _, m := range o.Sessions.GetOrCreate("telegram:123").SnapshotMessages() {
		if m.Role == "tool" {
			toolResult = m.Content
		}
	}
	assert.Contains(t, toolResult, "permission required")

	_, pending := o.Gate.Pending("telegram:123")
	assert.True(t, pending)
}

func TestHandleMessage_PendingApprovalShortCircuitsAllow(t *testing.T) {
	o, ch := newOrchestrator(t, nil)
	o.Gate.Check("telegram:123", "shell_exec") // sets pending

	err := o.HandleMessage(context.Background(), bus.InboundMessage{Platform: bus.PlatformTelegram, ChatID: "123", Content: "always"})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)
	assert.Contains(t, ch.sent[0], "always allowed")

	decision, _ := o.Gate.Check("telegram:123", "shell_exec")
	assert.Equal(t, trust.DecisionAllow, decision)
}
