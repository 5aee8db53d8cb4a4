package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tendwatch/tendwatch/internal/projection"
)

// ProjectionTools wraps a projection.Store into the projection_add /
// projection_resolve / projection_list tools; cancelling is
// projection_resolve with outcome "cancelled".
type ProjectionTools struct {
	Store *projection.Store
}

type projectionAddTool struct{ pt *ProjectionTools }

func (t *projectionAddTool) Name() string { return "projection_add" }
func (t *projectionAddTool) Description() string {
	return "Record a future-oriented commitment: something to follow up on at a time, on an event, or once another projection resolves."
}
func (t *projectionAddTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary":         map[string]interface{}{"type": "string", "description": "Short description of the commitment."},
			"raw_when":        map[string]interface{}{"type": "string", "description": "The user's original phrasing of when, if any."},
			"resolved_when":   map[string]interface{}{"type": "string", "description": "RFC3339 timestamp, when known exactly or to the day."},
			"resolution":      map[string]interface{}{"type": "string", "enum": []string{"exact", "day", "week", "month", "someday"}},
			"recurrence":      map[string]interface{}{"type": "string", "description": "Cron expression, if this repeats."},
			"trigger_on_fact": map[string]interface{}{"type": "string", "description": "Free-text description of the fact that should trigger this, if event-based."},
			"context":         map[string]interface{}{"type": "string", "description": "Supporting context to recall when this resolves."},
			"depends_on":      map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "IDs of projections this one waits on."},
		},
		"required": []string{"summary", "resolution"},
	}
}

func (t *projectionAddTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	summary, _ := args["summary"].(string)
	resolutionStr, _ := args["resolution"].(string)
	if summary == "" {
		return ErrorResult("summary is required")
	}
	resolution := projection.Resolution(resolutionStr)
	if !resolution.Valid() {
		return ErrorResult(fmt.Sprintf("invalid resolution %q", resolutionStr))
	}

	p := projection.Projection{
		Summary:       summary,
		Resolution:    resolution,
		RawWhen:       stringArg(args, "raw_when"),
		Recurrence:    stringArg(args, "recurrence"),
		TriggerOnFact: stringArg(args, "trigger_on_fact"),
		Context:       stringArg(args, "context"),
		LinkedIDs:     stringSliceArg(args, "depends_on"),
	}

	if rw := stringArg(args, "resolved_when"); rw != "" {
		parsed, err := time.Parse(time.RFC3339, rw)
		if err != nil {
			return ErrorResult(fmt.Sprintf("resolved_when must be RFC3339: %v", err))
		}
		p.ResolvedWhen = &parsed
		p.ResolvedWhenHasTime = resolution == projection.ResolutionExact
	}

	id, err := t.pt.Store.Add(ctx, p)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to record projection: %v", err))
	}
	return SilentResult(fmt.Sprintf(`{"id":%q}`, id))
}

type projectionResolveTool struct{ pt *ProjectionTools }

func (t *projectionResolveTool) Name() string { return "projection_resolve" }
func (t *projectionResolveTool) Description() string {
	return "Mark a projection done or cancelled."
}
func (t *projectionResolveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id":      map[string]interface{}{"type": "string"},
			"outcome": map[string]interface{}{"type": "string", "enum": []string{"done", "cancelled"}},
		},
		"required": []string{"id", "outcome"},
	}
}

func (t *projectionResolveTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id, _ := args["id"].(string)
	outcomeStr, _ := args["outcome"].(string)
	outcome := projection.Status(outcomeStr)
	if id == "" || (outcome != projection.StatusDone && outcome != projection.StatusCancelled) {
		return ErrorResult("id is required and outcome must be done or cancelled")
	}
	ok, err := t.pt.Store.Resolve(ctx, id, outcome)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to resolve projection: %v", err))
	}
	if !ok {
		return ErrorResult(fmt.Sprintf("no pending projection with id %q", id))
	}
	return SilentResult("resolved")
}

type projectionListTool struct{ pt *ProjectionTools }

func (t *projectionListTool) Name() string { return "projection_list" }
func (t *projectionListTool) Description() string {
	return "List upcoming projections within a horizon, plus every someday/unresolved one."
}
func (t *projectionListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"horizon_days": map[string]interface{}{"type": "number", "description": "Days ahead to include. Defaults to 30."},
		},
	}
}

func (t *projectionListTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	horizon := 30
	if h, ok := args["horizon_days"].(float64); ok && h > 0 {
		horizon = int(h)
	}
	projections, err := t.pt.Store.GetUpcoming(ctx, horizon)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to list projections: %v", err))
	}
	data, _ := json.Marshal(projections)
	return SilentResult(string(data))
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Tools returns every tool this group provides.
func (pt *ProjectionTools) Tools() []Tool {
	return []Tool{&projectionAddTool{pt}, &projectionResolveTool{pt}, &projectionListTool{pt}}
}
