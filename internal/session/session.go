package session

import (
	"sync"
	"time"

	"github.com/tendwatch/tendwatch/internal/providers"
)

// Session holds one user's conversational state: message history and
// accounting the orchestrator needs across turns. One logical session per
// user, keyed by platform+chat, created lazily and disposed on /clear.
type Session struct {
	mu       sync.Mutex
	UserID   string
	Messages []providers.Message
	Created  time.Time
	Updated  time.Time
}

// Manager owns every active Session, grounded on the teacher's
// sessions.Manager but trimmed to tendwatch's single-principal shape: no
// disk persistence (history/YYYY-MM-DD.jsonl is the durable audit trail;
// in-memory session state is disposable across restarts per spec.md §6,
// which lists no session-snapshot file), no compaction bookkeeping, no
// subagent spawn metadata.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for userID, creating it if absent.
func (m *Manager) GetOrCreate(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return s
	}
	s := &Session{UserID: userID, Created: time.Now(), Updated: time.Now()}
	m.sessions[userID] = s
	return s
}

// Clear discards a session's history, as the /clear slash command does.
func (m *Manager) Clear(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// AppendMessage appends msg under the session's lock.
func (s *Session) AppendMessage(msg providers.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now()
}

// SnapshotMessages returns a copy of the current history.
func (s *Session) SnapshotMessages() []providers.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]providers.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// SetMessages replaces the full history, e.g. after transcript repair.
func (s *Session) SetMessages(msgs []providers.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = msgs
	s.Updated = time.Now()
}
