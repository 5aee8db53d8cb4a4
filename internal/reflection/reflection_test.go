package reflection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendwatch/tendwatch/internal/providers"
)

type fakeProvider struct {
	content string
	err     error
}

func (p *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &providers.ChatResponse{Content: p.content, FinishReason: "stop"}, nil
}
func (p *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}
func (p *fakeProvider) DefaultModel() string { return "fake-model" }
func (p *fakeProvider) Name() string         { return "fake" }

func TestReflect_ValidCandidates(t *testing.T) {
	r := &LLMReflector{Provider: &fakeProvider{content: `[
		{"summary": "renew passport", "resolved_when": "2026-09-01", "resolution": "day"},
		{"summary": "follow up with Sam", "trigger_on_fact": "Sam replies about the contract"}
	]`}}

	got, err := r.Reflect(context.Background(), "user: I need to renew my passport by September")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "renew passport", got[0].Summary)
	assert.NotNil(t, got[0].ResolvedWhen)
	assert.False(t, got[0].ResolvedWhenHasTime)
	assert.Equal(t, "follow up with Sam", got[1].Summary)
	assert.Equal(t, "Sam replies about the contract", got[1].TriggerOnFact)
}

func TestReflect_EmptyArrayYieldsNoCandidates(t *testing.T) {
	r := &LLMReflector{Provider: &fakeProvider{content: "[]"}}
	got, err := r.Reflect(context.Background(), "user: how's the weather")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReflect_MarkdownFenceStripped(t *testing.T) {
	r := &LLMReflector{Provider: &fakeProvider{content: "```json\n[{\"summary\": \"call the dentist\"}]\n```"}}
	got, err := r.Reflect(context.Background(), "user: I should call the dentist")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "call the dentist", got[0].Summary)
	assert.Equal(t, "someday", string(got[0].Resolution))
}

func TestReflect_MalformedResponseYieldsZeroCandidatesNoError(t *testing.T) {
	r := &LLMReflector{Provider: &fakeProvider{content: "I don't see anything to extract."}}
	got, err := r.Reflect(context.Background(), "user: hi")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReflect_InvalidCandidatesDropped(t *testing.T) {
	r := &LLMReflector{Provider: &fakeProvider{content: `[
		{"summary": ""},
		{"summary": "bad resolution", "resolution": "next tuesday"},
		{"summary": "bad date", "resolved_when": "not-a-date"},
		{"summary": "trigger too long", "trigger_on_fact": "` + longFact() + `"},
		{"summary": "kept"}
	]`}}

	got, err := r.Reflect(context.Background(), "window")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Summary)
}

func TestReflect_EmptyWindowSkipsCall(t *testing.T) {
	r := &LLMReflector{Provider: &fakeProvider{content: "should never be read"}}
	got, err := r.Reflect(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func longFact() string {
	b := make([]byte, 101)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
