package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tendwatch/tendwatch/internal/providers"
)

func assistantWithCalls(ids ...string) providers.Message {
	calls := make([]providers.ToolCall, len(ids))
	for i, id := range ids {
		calls[i] = providers.ToolCall{ID: id, Name: "memory_search"}
	}
	return providers.Message{Role: "assistant", ToolCalls: calls}
}

func toolResult(id, content string) providers.Message {
	return providers.Message{Role: "tool", ToolCallID: id, Content: content}
}

func TestRepair_WellFormedReturnsSameReference(t *testing.T) {
	msgs := []providers.Message{
		{Role: "user", Content: "hi"},
		assistantWithCalls("c1"),
		toolResult("c1", "ok"),
		{Role: "assistant", Content: "done"},
	}

	repaired, counts := Repair(msgs, "tendwatch")

	assert.Equal(t, 0, counts.Total())
	assert.Same(t, &msgs[0], &repaired[0])
}

func TestRepair_MissingResultInserted(t *testing.T) {
	msgs := []providers.Message{
		assistantWithCalls("c1"),
	}

	repaired, counts := Repair(msgs, "tendwatch")

	assert.Equal(t, 1, counts.MissingResults)
	assert.Equal(t, 0, counts.Total()-1)
	assert.Len(t, repaired, 2)
	assert.Equal(t, "tool", repaired[1].Role)
	assert.Equal(t, "c1", repaired[1].ToolCallID)
	assert.Contains(t, repaired[1].Content, "tendwatch")
}

func TestRepair_DuplicateResultDropped(t *testing.T) {
	msgs := []providers.Message{
		assistantWithCalls("c1"),
		toolResult("c1", "first"),
		toolResult("c1", "second"),
	}

	repaired, counts := Repair(msgs, "tendwatch")

	assert.Equal(t, 1, counts.DuplicateResults)
	assert.Len(t, repaired, 2)
	assert.Equal(t, "first", repaired[1].Content)
}

func TestRepair_OrphanResultDropped(t *testing.T) {
	msgs := []providers.Message{
		{Role: "user", Content: "hi"},
		toolResult("ghost", "nothing called this"),
	}

	repaired, counts := Repair(msgs, "tendwatch")

	assert.Equal(t, 1, counts.OrphanResults)
	assert.Len(t, repaired, 1)
}

func TestRepair_ReorderedResultRelocated(t *testing.T) {
	msgs := []providers.Message{
		assistantWithCalls("c1", "c2"),
		{Role: "user", Content: "interrupting noise"},
		toolResult("c2", "second call result"),
		toolResult("c1", "first call result"),
	}

	repaired, counts := Repair(msgs, "tendwatch")

	assert.Greater(t, counts.ReorderedResults, 0)
	assert.Equal(t, "assistant", repaired[0].Role)
	assert.Equal(t, "tool", repaired[1].Role)
	assert.Equal(t, "c1", repaired[1].ToolCallID)
	assert.Equal(t, "tool", repaired[2].Role)
	assert.Equal(t, "c2", repaired[2].ToolCallID)
	assert.Equal(t, "user", repaired[3].Role)
}

func TestRepair_IdempotentOnAlreadyRepairedTranscript(t *testing.T) {
	msgs := []providers.Message{
		assistantWithCalls("c1", "c2"),
		{Role: "user", Content: "noise"},
		toolResult("c2", "r2"),
		toolResult("ghost", "orphan"),
		toolResult("c2", "dup"),
	}

	once, _ := Repair(msgs, "tendwatch")
	twice, counts := Repair(once, "tendwatch")

	assert.Equal(t, 0, counts.Total())
	assert.Equal(t, once, twice)
}
