// Package worker manages isolated background research sessions: their
// lifecycle, atomic status persistence, steering notes, and the
// completion-fact bridge back into archival memory and projections.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendwatch/tendwatch/internal/atomicfile"
	"github.com/tendwatch/tendwatch/internal/datadir"
)

// Status is the closed set of worker lifecycle states.
type Status string

const (
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusComplete, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is one of a worker's terminal states.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Worker is the in-memory and on-disk record of one background session.
type Worker struct {
	ID          string     `json:"worker_id"`
	Status      Status     `json:"status"`
	Task        string     `json:"task"`
	WorkingDir  string     `json:"-"`
	Model       string     `json:"model"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Error       *string    `json:"error"`
	ResultPath  string     `json:"result_path"`
}

func (w *Worker) statusPath() string {
	return filepath.Join(w.WorkingDir, "status.json")
}

func (w *Worker) writeStatus() error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("worker: marshal status: %w", err)
	}
	return atomicfile.Write(w.statusPath(), data, 0o644)
}

// RunFunc performs the actual isolated session work (the scoped file
// tools + web-fetch/search tool loop lives in the caller, not here) and
// returns the path to the worker's result.md on success.
type RunFunc func(ctx context.Context, w Worker) (resultPath string, err error)

// CompletionHook is invoked after a worker reaches a terminal status, for
// the completion-fact bridge (archival insert + trigger check + synthetic
// enqueue). It returns nothing, so a bridge failure cannot change the
// worker's recorded status.
type CompletionHook func(ctx context.Context, w Worker)

// Registry owns every live and recently-terminal worker for one user.
type Registry struct {
	mu            sync.Mutex
	workers       map[string]*Worker
	cancels       map[string]context.CancelFunc
	layout        datadir.Layout
	maxConcurrent int
	purgeAfter    time.Duration
	onComplete    CompletionHook
}

// NewRegistry builds a Registry. maxConcurrent<=0 means unlimited;
// purgeAfter<=0 defaults to 24h per spec.md §6.
func NewRegistry(layout datadir.Layout, maxConcurrent int, purgeAfter time.Duration, onComplete CompletionHook) *Registry {
	if purgeAfter <= 0 {
		purgeAfter = 24 * time.Hour
	}
	return &Registry{
		workers:       make(map[string]*Worker),
		cancels:       make(map[string]context.CancelFunc),
		layout:        layout,
		maxConcurrent: maxConcurrent,
		purgeAfter:    purgeAfter,
		onComplete:    onComplete,
	}
}

func (r *Registry) runningCountLocked() int {
	n := 0
	for _, w := range r.workers {
		if w.Status == StatusRunning {
			n++
		}
	}
	return n
}

// ErrAtCapacity is returned by Dispatch when max_concurrent running workers
// are already active.
var ErrAtCapacity = fmt.Errorf("worker: at max_concurrent capacity")

// Dispatch spawns a worker running run in the background and returns its ID
// immediately.
func (r *Registry) Dispatch(ctx context.Context, task, model string, run RunFunc, timeout time.Duration) (string, error) {
	r.mu.Lock()
	if r.maxConcurrent > 0 && r.runningCountLocked() >= r.maxConcurrent {
		r.mu.Unlock()
		return "", ErrAtCapacity
	}
	r.mu.Unlock()

	id := uuid.NewString()
	dir, err := r.layout.EnsureWorkerDir(id)
	if err != nil {
		return "", fmt.Errorf("worker: ensure dir: %w", err)
	}

	w := &Worker{
		ID:         id,
		Status:     StatusRunning,
		Task:       task,
		WorkingDir: dir,
		Model:      model,
		StartedAt:  time.Now(),
		ResultPath: filepath.Join(dir, "result.md"),
	}
	if err := w.writeStatus(); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	r.mu.Lock()
	r.workers[id] = w
	r.cancels[id] = cancel
	r.mu.Unlock()

	go r.supervise(runCtx, w, run, timeout)
	return id, nil
}

func (r *Registry) supervise(ctx context.Context, w *Worker, run RunFunc, timeout time.Duration) {
	resultCh := make(chan runOutcome, 1)
	go func() {
		path, err := run(ctx, *w)
		resultCh <- runOutcome{path: path, err: err}
	}()

	var outcome runOutcome
	select {
	case outcome = <-resultCh:
	case <-ctx.Done():
		if timeout > 0 && ctx.Err() == context.DeadlineExceeded {
			outcome = runOutcome{err: context.DeadlineExceeded}
		} else {
			// context cancelled some other way (e.g. process shutdown);
			// treat like a normal interrupt path, status already handled
			// by Interrupt if that's what caused it.
			outcome = runOutcome{err: ctx.Err()}
		}
	}

	r.finish(context.Background(), w, outcome)
}

type runOutcome struct {
	path string
	err  error
}

// finish records the terminal status, unless Interrupt already set one —
// the spawner's error handler must not overwrite a status the interrupt
// path pre-set, per spec.md §5.
func (r *Registry) finish(ctx context.Context, w *Worker, outcome runOutcome) {
	r.mu.Lock()
	current, ok := r.workers[w.ID]
	if !ok || current.Status.Terminal() {
		r.mu.Unlock()
		return
	}

	now := time.Now()
	current.CompletedAt = &now
	switch {
	case outcome.err == context.DeadlineExceeded:
		current.Status = StatusTimeout
		msg := "timed out"
		current.Error = &msg
	case outcome.err != nil:
		current.Status = StatusFailed
		msg := outcome.err.Error()
		current.Error = &msg
	default:
		current.Status = StatusComplete
		current.ResultPath = outcome.path
	}
	snapshot := *current
	r.mu.Unlock()

	if err := current.writeStatus(); err != nil {
		// best-effort: the in-memory state is still authoritative for this
		// process; a write failure surfaces on the next status read.
		_ = err
	}

	if r.onComplete != nil {
		r.onComplete(ctx, snapshot)
	}
}

// Interrupt aborts a running worker, marking it cancelled before the abort
// propagates so the spawner's own completion handler observes the
// pre-set terminal status.
func (r *Registry) Interrupt(id string) error {
	r.mu.Lock()
	w, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("worker: unknown id %q", id)
	}
	if w.Status.Terminal() {
		r.mu.Unlock()
		return nil
	}
	now := time.Now()
	w.Status = StatusCancelled
	w.CompletedAt = &now
	cancel := r.cancels[id]
	snapshot := *w
	r.mu.Unlock()

	if err := w.writeStatus(); err != nil {
		return err
	}
	if r.onComplete != nil {
		r.onComplete(context.Background(), snapshot)
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Steer writes a replacement steering note into the worker's directory. The
// worker's own system prompt instructs it to poll steering.md periodically.
func (r *Registry) Steer(id, note string) error {
	r.mu.Lock()
	w, ok := r.workers[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker: unknown id %q", id)
	}
	return atomicfile.Write(filepath.Join(w.WorkingDir, "steering.md"), []byte(note), 0o644)
}

// Get returns a copy of a worker's current state.
func (r *Registry) Get(id string) (Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return Worker{}, false
	}
	return *w, true
}

// List returns a copy of every tracked worker.
func (r *Registry) List() []Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	return out
}

// Purge drops terminal workers older than purgeAfter from the in-memory
// registry (their on-disk status.json/result.md are left in place). Returns
// the count removed.
func (r *Registry) Purge(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, w := range r.workers {
		if !w.Status.Terminal() || w.CompletedAt == nil {
			continue
		}
		if now.Sub(*w.CompletedAt) >= r.purgeAfter {
			delete(r.workers, id)
			delete(r.cancels, id)
			n++
		}
	}
	return n
}
