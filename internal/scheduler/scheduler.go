// Package scheduler runs the cron-driven jobs that make tendwatch proactive:
// a daily review of upcoming projections, a frequent exact-time due check,
// and a periodic reflection pass over recent conversation.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tendwatch/tendwatch/internal/activehours"
	"github.com/tendwatch/tendwatch/internal/bus"
	"github.com/tendwatch/tendwatch/internal/projection"
)

// Enqueuer delivers a synthesized message into a user's inbound queue, the
// same path a real channel message takes, per spec.md §4.11's "proactive
// surfacing looks like an inbound turn" design.
type Enqueuer interface {
	Enqueue(msg bus.InboundMessage) error
}

// Job is one cron-scheduled unit of work.
type Job struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

// Scheduler drives a set of Jobs on a single poll loop, checking each job's
// cron expression every tick rather than spawning one goroutine per job —
// the teacher's worker-pool idiom of a shared ticker plus per-task
// last-run bookkeeping, scaled down to a handful of jobs.
type Scheduler struct {
	jobs    []Job
	logger  *slog.Logger
	lastRun map[string]time.Time
	tick    time.Duration
}

// New builds a Scheduler. tick is how often the poll loop wakes to check
// whether any job's cron expression matches; one minute is sufficient
// resolution for every job spec.md §4.11 names (finest-grained is every 5
// minutes).
func New(jobs []Job, logger *slog.Logger, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		jobs:    jobs,
		logger:  logger,
		lastRun: make(map[string]time.Time, len(jobs)),
		tick:    tick,
	}
}

// Run blocks, driving jobs until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.checkAll(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.checkAll(ctx, now)
		}
	}
}

func (s *Scheduler) checkAll(ctx context.Context, now time.Time) {
	for _, job := range s.jobs {
		if !s.due(job, now) {
			continue
		}
		s.lastRun[job.Name] = now
		if err := job.Run(ctx); err != nil {
			s.logger.Error("scheduler job failed", "job", job.Name, "error", err)
		}
	}
}

func (s *Scheduler) due(job Job, now time.Time) bool {
	last, ran := s.lastRun[job.Name]
	if !ran {
		last = now.Add(-s.tick)
	}
	gron := gronx.New()
	due, err := gron.IsDue(job.Cron, now)
	if err != nil {
		s.logger.Error("invalid cron expression", "job", job.Name, "cron", job.Cron, "error", err)
		return false
	}
	// Guard against double-firing within the same tick window if IsDue is
	// true across multiple consecutive polls inside one cron minute.
	return due && now.Sub(last) >= s.tick
}

// DailyReviewFunc builds the Job that runs the daily review: expire stale
// exact projections, evaluate any dependency activations, then surface the
// upcoming week if non-empty.
func DailyReviewFunc(store *projection.Store, window activehours.Window, enq Enqueuer, platform bus.Platform, chatID string, synthesize func([]projection.Projection) string) func(context.Context) error {
	return func(ctx context.Context) error {
		active, err := window.Active(time.Now())
		if err != nil {
			return fmt.Errorf("daily review: active-hours check: %w", err)
		}
		if !active {
			return nil
		}
		if _, err := store.AutoExpire(ctx, 24); err != nil {
			return fmt.Errorf("daily review: auto-expire: %w", err)
		}
		if _, err := store.EvaluateDependencies(ctx); err != nil {
			return fmt.Errorf("daily review: evaluate dependencies: %w", err)
		}
		upcoming, err := store.GetUpcoming(ctx, 7)
		if err != nil {
			return fmt.Errorf("daily review: get upcoming: %w", err)
		}
		if len(upcoming) == 0 {
			return nil
		}
		content := synthesize(upcoming)
		return enq.Enqueue(bus.InboundMessage{
			Platform:  platform,
			ChatID:    chatID,
			SenderID:  chatID,
			Content:   content,
			Synthetic: true,
			Metadata:  map[string]string{"job": "daily_review"},
		})
	}
}

// ExactCheckFunc builds the Job that fires projections due within the next
// few minutes: rearm recurring ones before enqueueing, resolve one-offs to
// passed, then surface each.
func ExactCheckFunc(store *projection.Store, window activehours.Window, enq Enqueuer, platform bus.Platform, chatID string, windowMinutes int, synthesize func(projection.Projection) string) func(context.Context) error {
	return func(ctx context.Context) error {
		active, err := window.Active(time.Now())
		if err != nil {
			return fmt.Errorf("exact check: active-hours check: %w", err)
		}
		if !active {
			return nil
		}
		if _, err := store.EvaluateDependencies(ctx); err != nil {
			return fmt.Errorf("exact check: evaluate dependencies: %w", err)
		}
		due, err := store.GetExactDue(ctx, windowMinutes)
		if err != nil {
			return fmt.Errorf("exact check: get due: %w", err)
		}
		for _, p := range due {
			if p.Recurrence != "" {
				next, ok := projection.NextOccurrence(p.Recurrence, time.Now())
				if !ok {
					slog.Warn("exact check: recurrence has no future occurrence, marking passed", "projection", p.ID, "recurrence", p.Recurrence)
					if _, err := store.Resolve(ctx, p.ID, projection.StatusPassed); err != nil {
						return fmt.Errorf("exact check: resolve unrearmable recurrence %s: %w", p.ID, err)
					}
					continue
				}
				if _, err := store.Rearm(ctx, p.ID, next); err != nil {
					return fmt.Errorf("exact check: rearm %s: %w", p.ID, err)
				}
			} else {
				if _, err := store.Resolve(ctx, p.ID, projection.StatusPassed); err != nil {
					return fmt.Errorf("exact check: resolve %s: %w", p.ID, err)
				}
			}
			if err := enq.Enqueue(bus.InboundMessage{
				Platform:  platform,
				ChatID:    chatID,
				SenderID:  chatID,
				Content:   synthesize(p),
				Synthetic: true,
				Metadata:  map[string]string{"job": "exact_check", "projection_id": p.ID},
			}); err != nil {
				return fmt.Errorf("exact check: enqueue %s: %w", p.ID, err)
			}
		}
		return nil
	}
}

// Reflector extracts projection candidates from a window of recent
// conversation text, out-of-loop (no agent turn, no tool use).
type Reflector interface {
	Reflect(ctx context.Context, conversationWindow string) ([]projection.Projection, error)
}

// ReflectionFunc builds the Job that periodically re-reads recent
// conversation and extracts any new projection candidates. It skips the
// extraction call entirely when the window's content hash is unchanged
// since the last run, since an LLM call against unchanged input can only
// reproduce what's already been extracted.
func ReflectionFunc(store *projection.Store, reflector Reflector, windowProvider func() (string, error)) func(context.Context) error {
	var lastHash string
	return func(ctx context.Context) error {
		text, err := windowProvider()
		if err != nil {
			return fmt.Errorf("reflection: read conversation window: %w", err)
		}
		hash := hashWindow(text)
		if hash == lastHash {
			return nil
		}
		lastHash = hash

		candidates, err := reflector.Reflect(ctx, text)
		if err != nil {
			return fmt.Errorf("reflection: extract candidates: %w", err)
		}
		for _, c := range candidates {
			if _, err := store.Add(ctx, c); err != nil {
				return fmt.Errorf("reflection: add candidate: %w", err)
			}
		}
		return nil
	}
}
