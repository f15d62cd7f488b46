// Package memory keeps bounded per-session conversation history.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veramoney/assistant/internal/agent"
)

const defaultMaxSessions = 10000

// Store is an in-memory session store. Histories are bounded per
// session, and the oldest session is evicted when the store is full.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*session
	maxTurns    int
	maxSessions int
}

type session struct {
	messages []agent.Message
	lastSeen time.Time
}

// New creates a session store keeping at most maxTurns exchanges
// (a user message plus the assistant reply) per session.
func New(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Store{
		sessions:    make(map[string]*session),
		maxTurns:    maxTurns,
		maxSessions: defaultMaxSessions,
	}
}

// NewSession allocates a fresh session id.
func (s *Store) NewSession() string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictIfFull()
	s.sessions[id] = &session{lastSeen: time.Now()}
	return id
}

// History returns a copy of the session's messages. Unknown sessions
// yield an empty history.
func (s *Store) History(sessionID string) []agent.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	sess.lastSeen = time.Now()
	return append([]agent.Message(nil), sess.messages...)
}

// Append adds messages to a session, creating it on first use, and
// trims the history to the turn budget.
func (s *Store) Append(sessionID string, msgs ...agent.Message) {
	if sessionID == "" || len(msgs) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		s.evictIfFull()
		sess = &session{}
		s.sessions[sessionID] = sess
	}
	sess.lastSeen = time.Now()
	sess.messages = append(sess.messages, msgs...)

	// two messages per turn
	if limit := s.maxTurns * 2; len(sess.messages) > limit {
		sess.messages = append([]agent.Message(nil), sess.messages[len(sess.messages)-limit:]...)
	}
}

// evictIfFull removes the least recently used session. Caller holds the
// lock.
func (s *Store) evictIfFull() {
	if len(s.sessions) < s.maxSessions {
		return
	}
	var oldestID string
	var oldest time.Time
	for id, sess := range s.sessions {
		if oldestID == "" || sess.lastSeen.Before(oldest) {
			oldestID = id
			oldest = sess.lastSeen
		}
	}
	delete(s.sessions, oldestID)
}
