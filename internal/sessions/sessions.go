// Package sessions provides in-memory session management for multi-turn
// chat conversations.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/google/uuid"
)

// DefaultMaxMessages caps the history kept per session. Older turns are
// dropped first; the pipeline trims further to the model's window.
const DefaultMaxMessages = 200

// MemorySessionStore is a thread-safe in-memory session store.
type MemorySessionStore struct {
	mu          sync.RWMutex
	sessions    map[string]*models.Session
	maxMessages int
	now         func() time.Time
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions:    make(map[string]*models.Session),
		maxMessages: DefaultMaxMessages,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession starts an empty session, optionally scoped to one note.
func (s *MemorySessionStore) CreateSession(_ context.Context, title, noteID string) *models.Session {
	now := s.now()
	sess := &models.Session{
		ID:        uuid.NewString(),
		Title:     title,
		NoteID:    noteID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return clone(sess)
}

// GetSession returns a copy of the session.
func (s *MemorySessionStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, &contracts.ErrNotFound{Entity: "session", Key: id}
	}
	return clone(sess), nil
}

// AppendTurn adds the messages of one completed turn and counts the turn.
func (s *MemorySessionStore) AppendTurn(_ context.Context, id string, msgs ...models.Message) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, &contracts.ErrNotFound{Entity: "session", Key: id}
	}
	sess.Messages = append(sess.Messages, msgs...)
	if over := len(sess.Messages) - s.maxMessages; over > 0 {
		sess.Messages = append([]models.Message(nil), sess.Messages[over:]...)
	}
	sess.TurnCount++
	sess.UpdatedAt = s.now()
	return clone(sess), nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *MemorySessionStore) ListSessions(_ context.Context) []models.Session {
	s.mu.RLock()
	result := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, *clone(sess))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result
}

// DeleteSession removes a session.
func (s *MemorySessionStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; !exists {
		return &contracts.ErrNotFound{Entity: "session", Key: id}
	}
	delete(s.sessions, id)
	return nil
}

// Prune removes sessions idle for longer than maxIdle and returns how many
// were removed.
func (s *MemorySessionStore) Prune(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func clone(sess *models.Session) *models.Session {
	cp := *sess
	cp.Messages = append([]models.Message(nil), sess.Messages...)
	return &cp
}
