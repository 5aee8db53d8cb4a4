package worker

import (
	"context"
	"fmt"

	"github.com/tendwatch/tendwatch/internal/archival"
	"github.com/tendwatch/tendwatch/internal/bus"
	"github.com/tendwatch/tendwatch/internal/projection"
)

// Enqueuer delivers a synthesized message into a user's inbound queue.
// Mirrors scheduler.Enqueuer; kept as its own local interface so this
// package doesn't need to import internal/queue.
type Enqueuer interface {
	Enqueue(msg bus.InboundMessage) error
}

// Bridge wires a Registry's CompletionHook to archival memory and
// projection triggers, per spec.md §4.8: a worker's terminal status is
// written to archival memory as a fact — success and failure alike, so
// triggers react uniformly — and any projection it activates is surfaced
// immediately rather than waiting for the scheduler's next tick.
type Bridge struct {
	Archival    *archival.Store
	Projections *projection.Store
	Embed       projection.EmbedFunc
	Threshold   float64
	Enqueue     Enqueuer
	Platform    bus.Platform
	ChatID      string
}

// Hook builds the CompletionHook to pass to NewRegistry.
func (b *Bridge) Hook() CompletionHook {
	return func(ctx context.Context, w Worker) {
		fact := completionFact(w)
		factID, err := b.Archival.Add(ctx, fact, archival.SourceWorker, nil)
		if err != nil {
			return
		}
		_ = factID

		activated, err := b.Projections.CheckTriggers(ctx, fact, b.Embed, b.Threshold)
		if err != nil || len(activated) == 0 {
			return
		}

		if b.Enqueue == nil {
			return
		}
		b.Enqueue.Enqueue(bus.InboundMessage{
			Platform:  b.Platform,
			ChatID:    b.ChatID,
			SenderID:  b.ChatID,
			Content:   fact,
			Synthetic: true,
			Metadata:  map[string]string{"job": "worker_completion", "worker_id": w.ID},
		})
	}
}

// completionFact renders the fact text spec.md §4.3 names as the canonical
// trigger phrase: "Worker <id> complete, results at <path>" on success,
// "Worker <id> failed: <reason>" etc. otherwise.
func completionFact(w Worker) string {
	switch w.Status {
	case StatusComplete:
		return fmt.Sprintf("Worker %s complete, results at %s", w.ID, w.ResultPath)
	case StatusFailed:
		reason := ""
		if w.Error != nil {
			reason = *w.Error
		}
		return fmt.Sprintf("Worker %s failed: %s", w.ID, reason)
	case StatusTimeout:
		return fmt.Sprintf("Worker %s timed out", w.ID)
	case StatusCancelled:
		return fmt.Sprintf("Worker %s cancelled", w.ID)
	default:
		return fmt.Sprintf("Worker %s finished with status %s", w.ID, w.Status)
	}
}
