// Package queue implements the per-channel inbound message queue: bounded
// FIFO with merge-window coalescing and an at-most-one-in-flight processing
// guarantee per channel.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tendwatch/tendwatch/internal/bus"
)

// ProcessFunc handles one (possibly merged) inbound message for a channel.
// The queue guarantees no two ProcessFunc calls for the same channel ID run
// concurrently.
type ProcessFunc func(ctx context.Context, msg bus.InboundMessage) error

// RejectFunc is invoked when an enqueue is dropped due to backpressure
// (the channel's queue is already at MaxDepth).
type RejectFunc func(channelID string, msg bus.InboundMessage)

// Config configures a Manager.
type Config struct {
	// MergeWindow is how long the queue waits after the first message in a
	// burst before dispatching, coalescing anything else that arrives in
	// the meantime into one joined message. Zero disables merging.
	MergeWindow time.Duration
	// MaxDepth bounds how many messages may wait per channel before
	// onReject fires; messages still inside a merge window count one each
	// until they are merged into a single entry.
	MaxDepth int
}

// Manager owns one lane per channel ID, each processed independently so no
// channel's backlog can block another's.
type Manager struct {
	mu      sync.Mutex
	lanes   map[string]*lane
	cfg     Config
	process ProcessFunc
	onReject RejectFunc
}

// New builds a Manager. process is called for each dispatched (possibly
// merged) message; onReject, if non-nil, is called whenever backpressure
// drops an enqueue.
func New(cfg Config, process ProcessFunc, onReject RejectFunc) *Manager {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 100
	}
	return &Manager{
		lanes:    make(map[string]*lane),
		cfg:      cfg,
		process:  process,
		onReject: onReject,
	}
}

// lane is one channel's FIFO plus its merge-window timer state. All fields
// are guarded by the lane's own mu; Manager.mu guards only the lanes map.
type lane struct {
	mu        sync.Mutex
	pending   []bus.InboundMessage // messages collected in the current merge window
	queued    []bus.InboundMessage // dispatch-ready messages waiting for processing
	processing bool
	timer     *time.Timer
}

// channelKey identifies a lane: platform + chat, since the same chat ID on
// two platforms must not share a queue.
func channelKey(m bus.InboundMessage) string {
	return fmt.Sprintf("%s:%s", m.Platform, m.ChatID)
}

// Enqueue adds msg to its channel's lane. A lane with nothing running and
// nothing buffered dispatches msg immediately, skipping the merge window
// entirely, per spec.md §4.6 — only a message arriving while the lane is
// already processing or already has something buffered goes through merge-
// window coalescing. Returns an error only on validation failure;
// backpressure drops are reported via onReject, not an error return, since
// the caller (a channel adapter) has already accepted the message off the
// wire.
func (m *Manager) Enqueue(ctx context.Context, msg bus.InboundMessage) error {
	if !msg.Platform.Valid() {
		return fmt.Errorf("queue: invalid platform %q", msg.Platform)
	}
	key := channelKey(msg)

	m.mu.Lock()
	l, ok := m.lanes[key]
	if !ok {
		l = &lane{}
		m.lanes[key] = l
	}
	m.mu.Unlock()

	l.mu.Lock()
	if !l.processing && len(l.pending) == 0 && len(l.queued) == 0 {
		l.queued = append(l.queued, msg)
		l.mu.Unlock()
		go m.drain(ctx, key)
		return nil
	}

	if m.depthLocked(l) >= m.cfg.MaxDepth {
		l.mu.Unlock()
		if m.onReject != nil {
			m.onReject(key, msg)
		}
		return nil
	}

	if m.cfg.MergeWindow <= 0 {
		l.queued = append(l.queued, msg)
		l.mu.Unlock()
		go m.drain(ctx, key)
		return nil
	}

	l.pending = append(l.pending, msg)
	if l.timer == nil {
		l.timer = time.AfterFunc(m.cfg.MergeWindow, func() {
			m.flushMergeWindow(ctx, key)
		})
	}
	l.mu.Unlock()
	return nil
}

// depthLocked reports the total queued depth (pending + dispatch-ready) for
// a lane. Caller must hold l.mu.
func (m *Manager) depthLocked(l *lane) int {
	return len(l.pending) + len(l.queued)
}

// QueueDepth returns the current total depth for a channel.
func (m *Manager) QueueDepth(channelID string) int {
	m.mu.Lock()
	l, ok := m.lanes[channelID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return m.depthLocked(l)
}

// IsProcessing reports whether a message is currently in-flight for a
// channel.
func (m *Manager) IsProcessing(channelID string) bool {
	m.mu.Lock()
	l, ok := m.lanes[channelID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processing
}

func (m *Manager) flushMergeWindow(ctx context.Context, key string) {
	m.mu.Lock()
	l, ok := m.lanes[key]
	m.mu.Unlock()
	if !ok {
		return
	}

	l.mu.Lock()
	merged := mergeMessages(l.pending)
	l.pending = nil
	l.timer = nil
	if merged != nil {
		l.queued = append(l.queued, *merged)
	}
	l.mu.Unlock()

	m.drain(ctx, key)
}

// mergeMessages joins a burst of messages for the same channel into one,
// concatenating content with newlines and keeping the earliest message's
// identity fields. Returns nil for an empty burst.
func mergeMessages(msgs []bus.InboundMessage) *bus.InboundMessage {
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs) == 1 {
		return &msgs[0]
	}
	merged := msgs[0]
	for _, m := range msgs[1:] {
		if merged.Content != "" && m.Content != "" {
			merged.Content += "\n" + m.Content
		} else {
			merged.Content += m.Content
		}
		merged.Media = append(merged.Media, m.Media...)
	}
	return &merged
}

// drain processes queued messages for key one at a time, maintaining the
// at-most-one-in-flight guarantee. It's safe to call drain concurrently for
// the same key; only the call that wins the processing flag does work.
func (m *Manager) drain(ctx context.Context, key string) {
	m.mu.Lock()
	l, ok := m.lanes[key]
	m.mu.Unlock()
	if !ok {
		return
	}

	for {
		l.mu.Lock()
		if l.processing || len(l.queued) == 0 {
			l.mu.Unlock()
			return
		}
		msg := l.queued[0]
		l.queued = l.queued[1:]
		l.processing = true
		l.mu.Unlock()

		err := m.process(ctx, msg)
		_ = err // processing errors are the caller's responsibility to log; queue only sequences delivery

		l.mu.Lock()
		l.processing = false
		l.mu.Unlock()
	}
}
