package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tendwatch/tendwatch/internal/archival"
	"github.com/tendwatch/tendwatch/internal/projection"
)

// MemoryTools wraps an archival.Store and (optionally) an embedding
// function into the memory_search / memory_add tools, and bridges inserts
// through projection trigger matching per spec.md §4.3.
type MemoryTools struct {
	Store     *archival.Store
	Embed     func(ctx context.Context, text string) ([]float32, error)
	Projections *projection.Store
	TriggerThreshold float64
}

// searchTool implements memory_search.
type searchTool struct{ mt *MemoryTools }

func (t *searchTool) Name() string        { return "memory_search" }
func (t *searchTool) Description() string { return "Search archival memory for facts relevant to a query, combining keyword and semantic search." }
func (t *searchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "What to search for."},
			"limit": map[string]interface{}{"type": "number", "description": "Maximum results to return.", "minimum": 1.0},
		},
		"required": []string{"query"},
	}
}

func (t *searchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	limit := 10
	if l, ok := args["limit"].(float64); ok && l >= 1 {
		limit = int(l)
	}

	var queryEmbedding []float32
	if t.mt.Embed != nil {
		emb, err := t.mt.Embed(ctx, query)
		if err == nil {
			queryEmbedding = emb
		}
	}

	results, err := t.mt.Store.HybridSearch(ctx, query, queryEmbedding, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory search failed: %v", err))
	}
	data, _ := json.Marshal(results)
	return SilentResult(string(data))
}

// addTool implements memory_add: insert a fact and fire any triggers it
// activates, reporting them back to the LLM in the same tool result per
// spec.md §8's "tool result from archival insert reports {triggered:[...]}"
// scenario.
type addTool struct{ mt *MemoryTools }

func (t *addTool) Name() string        { return "memory_add" }
func (t *addTool) Description() string { return "Record a fact in archival memory." }
func (t *addTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{"type": "string", "description": "The fact to record."},
		},
		"required": []string{"content"},
	}
}

func (t *addTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult("content is required")
	}

	var emb []float32
	if t.mt.Embed != nil {
		if e, err := t.mt.Embed(ctx, content); err == nil {
			emb = e
		}
	}

	id, err := t.mt.Store.Add(ctx, content, archival.SourceConversation, emb)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to record fact: %v", err))
	}

	response := map[string]interface{}{"id": id}
	if t.mt.Projections != nil {
		activated, err := t.mt.Projections.CheckTriggers(ctx, content, toProjectionEmbedFunc(t.mt.Embed), t.mt.TriggerThreshold)
		if err == nil && len(activated) > 0 {
			triggered := make([]string, len(activated))
			for i, p := range activated {
				triggered[i] = p.Summary
			}
			response["triggered"] = triggered
		}
	}
	data, _ := json.Marshal(response)
	return SilentResult(string(data))
}

func toProjectionEmbedFunc(f func(ctx context.Context, text string) ([]float32, error)) projection.EmbedFunc {
	if f == nil {
		return nil
	}
	return projection.EmbedFunc(f)
}

// Tools returns every tool this group provides.
func (mt *MemoryTools) Tools() []Tool {
	return []Tool{&searchTool{mt}, &addTool{mt}}
}
