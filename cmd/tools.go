package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tendwatch/tendwatch/internal/providers"
	"github.com/tendwatch/tendwatch/internal/session"
	"github.com/tendwatch/tendwatch/internal/tools"
	"github.com/tendwatch/tendwatch/internal/worker"
)

// buildToolRegistry assembles the fixed tool set the session orchestrator
// exposes to the LLM tool loop, per spec.md §4 and SPEC_FULL.md's domain
// stack section: core memory, archival memory, projections, workers, and
// the external-collaborator tools (shell, web fetch, web search).
func buildToolRegistry(a *app, chain []session.ModelChoice, workers *worker.Registry, workerTimeout time.Duration) *tools.Registry {
	reg := tools.NewRegistry()

	cm := &tools.CoreMemoryTools{Store: a.Core}
	for _, t := range cm.Tools() {
		reg.Register(t)
	}

	mt := &tools.MemoryTools{
		Store:            a.Archival,
		Embed:            embedFunc,
		Projections:      a.Projects,
		TriggerThreshold: a.Config.Memory.MinScore,
	}
	for _, t := range mt.Tools() {
		reg.Register(t)
	}

	pt := &tools.ProjectionTools{Store: a.Projects}
	for _, t := range pt.Tools() {
		reg.Register(t)
	}

	wt := &tools.WorkerTools{
		Registry:       workers,
		Run:            workerRunFunc(chain),
		DefaultModel:   chain[0].Model,
		DefaultTimeout: workerTimeout,
	}
	for _, t := range wt.Tools() {
		reg.Register(t)
	}

	reg.Register(&tools.ShellTool{})
	reg.Register(&tools.WebFetchTool{})

	if searxng := os.Getenv("TENDWATCH_SEARXNG_URL"); searxng != "" {
		reg.Register(&tools.WebSearchTool{SearxngURL: searxng})
	}

	return reg
}

// workerRunFunc builds the RunFunc a dispatched worker executes: an
// isolated, bounded tool loop scoped to the worker's own working
// directory, grounded on the session orchestrator's runTurn shape but
// without trust gating, since a worker's own tool set (scoped filesystem +
// web) carries no elevated capability the dispatching turn didn't already
// approve by calling worker_dispatch itself.
func workerRunFunc(chain []session.ModelChoice) worker.RunFunc {
	const maxIterations = 12

	return func(ctx context.Context, w worker.Worker) (string, error) {
		fsTools := &tools.ScopedFilesystemTools{BaseDir: w.WorkingDir}
		reg := tools.NewRegistry()
		for _, t := range fsTools.Tools() {
			reg.Register(t)
		}
		reg.Register(&tools.WebFetchTool{})
		if searxng := os.Getenv("TENDWATCH_SEARXNG_URL"); searxng != "" {
			reg.Register(&tools.WebSearchTool{SearxngURL: searxng})
		}

		systemPrompt := "You are an isolated background worker. Complete the task, then write your findings to result.md using write_file and stop. Do not ask questions; you cannot receive replies."
		messages := []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: w.Task},
		}

		model := w.Model
		for iter := 0; iter < maxIterations; iter++ {
			resp, err := completeWithChain(ctx, chain, model, messages, reg.Definitions())
			if err != nil {
				return "", fmt.Errorf("worker: completion: %w", err)
			}

			messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

			if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) == 0 {
				break
			}
			for _, call := range resp.ToolCalls {
				t, ok := reg.Get(call.Name)
				var content string
				if !ok {
					content = fmt.Sprintf(`{"error":"unknown tool %q"}`, call.Name)
				} else {
					content = t.Execute(ctx, call.Arguments).ForLLM
				}
				messages = append(messages, providers.Message{Role: "tool", ToolCallID: call.ID, Content: content})
			}
		}

		resultPath := filepath.Join(w.WorkingDir, "result.md")
		if _, err := os.Stat(resultPath); err != nil {
			if err := os.WriteFile(resultPath, []byte(lastAssistantText(messages)), 0o644); err != nil {
				return "", fmt.Errorf("worker: write fallback result: %w", err)
			}
		}
		return resultPath, nil
	}
}

// completeWithChain tries each provider in chain in order, advancing on
// error — the same fallback discipline as session.Orchestrator, reproduced
// here since workers run outside the orchestrator's own tool loop.
func completeWithChain(ctx context.Context, chain []session.ModelChoice, model string, messages []providers.Message, toolDefs []providers.ToolDefinition) (*providers.ChatResponse, error) {
	var lastErr error
	for _, choice := range chain {
		m := choice.Model
		if model != "" {
			m = model
		}
		resp, err := choice.Provider.Chat(ctx, providers.ChatRequest{Model: m, Messages: messages, Tools: toolDefs})
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func lastAssistantText(messages []providers.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return "(worker produced no output)"
}
