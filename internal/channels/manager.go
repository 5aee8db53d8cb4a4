package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager owns every registered channel adapter's lifecycle. Unlike the
// teacher's Manager, it does not itself route outbound sends through a
// message bus: the session orchestrator holds a channel reference per
// platform and calls SendMessage/SendTyping/SendApprovalRequest directly,
// since tendwatch has one principal and no dynamic multi-tenant routing to
// arbitrate.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager creates an empty channel manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// Register adds a channel adapter under its own Name().
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get looks up a channel adapter by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts every registered channel, logging (not failing) on
// individual start errors so one misconfigured platform doesn't prevent
// the others from starting.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.channels) == 0 {
		slog.Warn("no channels registered")
		return nil
	}
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll stops every registered channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	return nil
}

// Names returns every registered channel's name.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// SendTo delivers text to a named channel's chat, returning an error if the
// channel isn't registered.
func (m *Manager) SendTo(ctx context.Context, channelName, chatID, text string) (string, error) {
	ch, ok := m.Get(channelName)
	if !ok {
		return "", fmt.Errorf("channels: unknown channel %q", channelName)
	}
	return ch.SendMessage(ctx, chatID, text, nil)
}
