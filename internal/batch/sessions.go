package batch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// DefaultSessionTTL is how long an idle session survives a restart
	DefaultSessionTTL = 30 * time.Minute
	// DefaultAutoClearDelay is how long a finished batch stays visible
	DefaultAutoClearDelay = 5 * time.Minute
)

// Session is the persisted snapshot of an owner's batch
type Session struct {
	Items        []ScanItem `json:"items" msgpack:"items"`
	BatchTitle   string     `json:"batchTitle" msgpack:"batchTitle"`
	Error        string     `json:"error" msgpack:"error"`
	SessionID    string     `json:"sessionId" msgpack:"sessionId"`
	LastActivity int64      `json:"lastActivity" msgpack:"lastActivity"`
}

// EmptySession returns a session with no items, title or error
func EmptySession() Session {
	return Session{Items: []ScanItem{}}
}

// IsEmpty reports whether there is nothing worth persisting
func (s Session) IsEmpty() bool {
	return len(s.Items) == 0 && s.Error == "" && s.BatchTitle == ""
}

// SessionStore is raw per-owner key/value storage for encoded sessions.
// Load returns nil data and no error when the owner has nothing stored.
type SessionStore interface {
	Load(owner string) ([]byte, error)
	Save(owner string, data []byte) error
	Delete(owner string) error
}

// Sessions restores and persists owner sessions on top of a SessionStore
type Sessions struct {
	store SessionStore
	ttl   time.Duration
	clock Clock
}

// NewSessions creates a Sessions. A zero ttl uses DefaultSessionTTL and a nil
// clock uses the system clock.
func NewSessions(store SessionStore, ttl time.Duration, clock Clock) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Sessions{store: store, ttl: ttl, clock: clock}
}

// Restore loads the owner's session. Missing, corrupt and expired sessions
// all come back empty; it never fails. Items left processing by a previous
// process are marked failed.
func (s *Sessions) Restore(owner string) Session {
	data, err := s.store.Load(owner)
	if err != nil {
		slog.Warn("Failed to load session", "owner", owner, "error", err)
		return EmptySession()
	}
	if data == nil {
		return EmptySession()
	}

	var session Session
	if err := msgpack.Unmarshal(data, &session); err != nil {
		slog.Warn("Discarding unreadable session", "owner", owner, "error", err)
		s.discard(owner)
		return EmptySession()
	}

	age := s.clock.Now().UnixMilli() - session.LastActivity
	if age > s.ttl.Milliseconds() {
		slog.Info("Discarding expired session", "owner", owner, "age_ms", age)
		s.discard(owner)
		return EmptySession()
	}

	if session.Items == nil {
		session.Items = []ScanItem{}
	}
	for i, item := range session.Items {
		if item.Status == StatusProcessing {
			session.Items[i].Status = StatusFailed
			session.Items[i].Message = MessageInterrupted
		}
	}

	return session
}

// Persist writes the full session, stamping LastActivity with the current time
func (s *Sessions) Persist(owner string, session *Session) error {
	session.LastActivity = s.clock.Now().UnixMilli()
	data, err := msgpack.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.store.Save(owner, data); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Clear removes the owner's persisted session
func (s *Sessions) Clear(owner string) error {
	if err := s.store.Delete(owner); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

func (s *Sessions) discard(owner string) {
	if err := s.store.Delete(owner); err != nil {
		slog.Warn("Failed to delete session", "owner", owner, "error", err)
	}
}
