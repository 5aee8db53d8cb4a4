// Package session implements the per-user session orchestrator: slash
// commands, the pending-approval handshake, transcript repair, system
// prompt assembly, the LLM fallback chain, and the trust-gated tool loop,
// grounded on the teacher's internal/sessions manager generalized to
// spec.md §4.7's fixed pipeline.
package session

import (
	"fmt"
	"reflect"

	"github.com/tendwatch/tendwatch/internal/providers"
)

// RepairCounts tallies how many of each repair class Repair applied, so
// callers can log non-zero counts as evidence of an upstream persistence
// bug, per spec.md §4.12.
type RepairCounts struct {
	MissingResults   int
	DuplicateResults int
	OrphanResults    int
	ReorderedResults int
}

// Total sums every repair class.
func (c RepairCounts) Total() int {
	return c.MissingResults + c.DuplicateResults + c.OrphanResults + c.ReorderedResults
}

// Repair enforces that every assistant message with tool_call blocks is
// immediately followed by its matching tool_result messages, in the same
// order as the calls. agentName is embedded in synthesized missing-result
// text for provenance. Returns the original slice (same reference) if no
// repair was needed.
func Repair(msgs []providers.Message, agentName string) ([]providers.Message, RepairCounts) {
	knownCallIDs := make(map[string]bool)
	for _, m := range msgs {
		if m.Role == "assistant" {
			for _, c := range m.ToolCalls {
				knownCallIDs[c.ID] = true
			}
		}
	}

	results := make(map[string]providers.Message, len(knownCallIDs))
	resultOriginalIndex := make(map[string]int, len(knownCallIDs))
	var counts RepairCounts

	for i, m := range msgs {
		if m.Role != "tool" {
			continue
		}
		if !knownCallIDs[m.ToolCallID] {
			counts.OrphanResults++
			continue
		}
		if _, dup := results[m.ToolCallID]; dup {
			counts.DuplicateResults++
			continue
		}
		results[m.ToolCallID] = m
		resultOriginalIndex[m.ToolCallID] = i
	}

	repaired := make([]providers.Message, 0, len(msgs))
	for i, m := range msgs {
		if m.Role == "tool" {
			continue // re-inserted inline below, next to its owning tool_call
		}
		repaired = append(repaired, m)
		if m.Role != "assistant" || len(m.ToolCalls) == 0 {
			continue
		}
		for j, call := range m.ToolCalls {
			result, ok := results[call.ID]
			if !ok {
				counts.MissingResults++
				repaired = append(repaired, providers.Message{
					Role:       "tool",
					ToolCallID: call.ID,
					Content:    fmt.Sprintf("[%s] tool result missing for call %s; treated as failed.", agentName, call.ID),
				})
				continue
			}
			if resultOriginalIndex[call.ID] != i+1+j {
				counts.ReorderedResults++
			}
			repaired = append(repaired, result)
		}
	}

	if reflect.DeepEqual(msgs, repaired) {
		return msgs, RepairCounts{}
	}
	return repaired, counts
}
