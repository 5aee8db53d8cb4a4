package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tendwatch/tendwatch/internal/worker"
)

// WorkerTools wraps a worker.Registry into worker_dispatch / worker_steer /
// worker_interrupt / worker_list, grounded on spec.md §4.8's background
// research sessions. Run is supplied by the session orchestrator: it is
// the isolated tool loop a dispatched worker actually executes.
type WorkerTools struct {
	Registry       *worker.Registry
	Run            worker.RunFunc
	DefaultModel   string
	DefaultTimeout time.Duration
}

type workerDispatchTool struct{ wt *WorkerTools }

func (t *workerDispatchTool) Name() string { return "worker_dispatch" }
func (t *workerDispatchTool) Description() string {
	return "Spin up an isolated background session to research or work on a task, returning immediately with its worker id."
}
func (t *workerDispatchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task":  map[string]interface{}{"type": "string", "description": "What the worker should do."},
			"model": map[string]interface{}{"type": "string", "description": "Override the default worker model."},
		},
		"required": []string{"task"},
	}
}

func (t *workerDispatchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	task, _ := args["task"].(string)
	if task == "" {
		return ErrorResult("task is required")
	}
	model := stringArg(args, "model")
	if model == "" {
		model = t.wt.DefaultModel
	}

	id, err := t.wt.Registry.Dispatch(ctx, task, model, t.wt.Run, t.wt.DefaultTimeout)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to dispatch worker: %v", err))
	}
	return SilentResult(fmt.Sprintf(`{"worker_id":%q}`, id))
}

type workerSteerTool struct{ wt *WorkerTools }

func (t *workerSteerTool) Name() string { return "worker_steer" }
func (t *workerSteerTool) Description() string {
	return "Send a steering note to a running worker, adjusting its direction without interrupting it."
}
func (t *workerSteerTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"worker_id": map[string]interface{}{"type": "string"},
			"note":      map[string]interface{}{"type": "string"},
		},
		"required": []string{"worker_id", "note"},
	}
}

func (t *workerSteerTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id := stringArg(args, "worker_id")
	note := stringArg(args, "note")
	if id == "" || note == "" {
		return ErrorResult("worker_id and note are required")
	}
	if err := t.wt.Registry.Steer(id, note); err != nil {
		return ErrorResult(err.Error())
	}
	return SilentResult("steered")
}

type workerInterruptTool struct{ wt *WorkerTools }

func (t *workerInterruptTool) Name() string { return "worker_interrupt" }
func (t *workerInterruptTool) Description() string {
	return "Cancel a running worker immediately."
}
func (t *workerInterruptTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"worker_id": map[string]interface{}{"type": "string"},
		},
		"required": []string{"worker_id"},
	}
}

func (t *workerInterruptTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id := stringArg(args, "worker_id")
	if id == "" {
		return ErrorResult("worker_id is required")
	}
	if err := t.wt.Registry.Interrupt(id); err != nil {
		return ErrorResult(err.Error())
	}
	return SilentResult("interrupted")
}

type workerListTool struct{ wt *WorkerTools }

func (t *workerListTool) Name() string        { return "worker_list" }
func (t *workerListTool) Description() string { return "List every tracked worker and its status." }
func (t *workerListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *workerListTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	workers := t.wt.Registry.List()
	data, _ := json.Marshal(workers)
	return SilentResult(string(data))
}

// Tools returns every tool this group provides.
func (wt *WorkerTools) Tools() []Tool {
	return []Tool{&workerDispatchTool{wt}, &workerSteerTool{wt}, &workerInterruptTool{wt}, &workerListTool{wt}}
}
