// Package reflection implements the out-of-loop extraction pass that scans
// recent conversation text for future-oriented commitments the user never
// explicitly asked to be remembered, per spec.md §4.9. It satisfies
// scheduler.Reflector.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tendwatch/tendwatch/internal/projection"
	"github.com/tendwatch/tendwatch/internal/providers"
)

// maxTriggerOnFactLen bounds trigger_on_fact per spec.md §4.9's validation
// rule; a longer phrase is treated as a malformed candidate and dropped.
const maxTriggerOnFactLen = 100

const systemPrompt = `You extract future-oriented commitments from a conversation transcript: things the user said they'd do, deadlines they mentioned, or events they're waiting on. You are not replying to the user and nothing you write is shown to them.

Respond with a JSON array only, no prose, no markdown fences. Each element has:
  "summary": short description of the commitment (required, non-empty)
  "resolved_when": "YYYY-MM-DD HH:MM" or "YYYY-MM-DD" in UTC if a concrete time was mentioned, otherwise omit
  "resolution": one of "exact", "day", "week", "month", "someday" (default "someday" if omitted)
  "trigger_on_fact": a short phrase (under 100 characters) describing a fact that, once learned, means this should surface — omit if time-based
  "context": a sentence of surrounding context, omit if none

If nothing future-oriented appears in the transcript, respond with an empty array: []`

// candidate mirrors the JSON shape the extraction prompt asks the model for.
type candidate struct {
	Summary       string `json:"summary"`
	ResolvedWhen  string `json:"resolved_when"`
	Resolution    string `json:"resolution"`
	TriggerOnFact string `json:"trigger_on_fact"`
	Context       string `json:"context"`
}

// fencedJSON strips a leading/trailing ```json ... ``` or ``` ... ``` fence,
// since models instructed to avoid markdown still sometimes add one.
var fencedJSON = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// LLMReflector extracts projection candidates with a single no-tool
// completion against Provider, grounded on the session orchestrator's
// completeWithFallback call shape but never entering a tool loop.
type LLMReflector struct {
	Provider providers.Provider
	Model    string
}

// Reflect implements scheduler.Reflector. A response that doesn't parse as
// the expected JSON array yields zero candidates rather than an error, so a
// single malformed extraction never aborts the scheduler's reflection job.
func (r *LLMReflector) Reflect(ctx context.Context, conversationWindow string) ([]projection.Projection, error) {
	if strings.TrimSpace(conversationWindow) == "" {
		return nil, nil
	}

	resp, err := r.Provider.Chat(ctx, providers.ChatRequest{
		Model: r.Model,
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: conversationWindow},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reflection: completion: %w", err)
	}

	candidates, err := parseCandidates(resp.Content)
	if err != nil {
		return nil, nil
	}

	now := time.Now().UTC()
	out := make([]projection.Projection, 0, len(candidates))
	for _, c := range candidates {
		p, ok := c.toProjection(now)
		if !ok {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func parseCandidates(content string) ([]candidate, error) {
	text := strings.TrimSpace(content)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if text == "" {
		return nil, fmt.Errorf("reflection: empty response")
	}

	var candidates []candidate
	if err := json.Unmarshal([]byte(text), &candidates); err != nil {
		return nil, fmt.Errorf("reflection: parse response: %w", err)
	}
	return candidates, nil
}

// toProjection validates c per spec.md §4.9 and converts it, reporting ok=
// false for anything malformed.
func (c candidate) toProjection(now time.Time) (projection.Projection, bool) {
	summary := strings.TrimSpace(c.Summary)
	if summary == "" {
		return projection.Projection{}, false
	}
	if len(c.TriggerOnFact) > maxTriggerOnFactLen {
		return projection.Projection{}, false
	}

	res := projection.Resolution(c.Resolution)
	if res == "" {
		res = projection.ResolutionSomeday
	}
	if !res.Valid() {
		return projection.Projection{}, false
	}

	p := projection.Projection{
		Summary:       summary,
		RawWhen:       strings.TrimSpace(c.ResolvedWhen),
		Resolution:    res,
		TriggerOnFact: strings.TrimSpace(c.TriggerOnFact),
		Context:       strings.TrimSpace(c.Context),
		Status:        projection.StatusPending,
		CreatedAt:     now,
	}

	if p.RawWhen != "" {
		t, hasTime, err := parseWhen(p.RawWhen)
		if err != nil {
			return projection.Projection{}, false
		}
		p.ResolvedWhen = &t
		p.ResolvedWhenHasTime = hasTime
	}

	return p, true
}

// parseWhen accepts "YYYY-MM-DD HH:MM" or "YYYY-MM-DD", both UTC, matching
// the canonical format the projection store renders resolved_when in.
func parseWhen(s string) (time.Time, bool, error) {
	if t, err := time.Parse("2006-01-02 15:04", s); err == nil {
		return t.UTC(), true, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), false, nil
	}
	return time.Time{}, false, fmt.Errorf("reflection: unparseable resolved_when %q", s)
}
