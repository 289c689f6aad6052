// Package session holds the server-side state an agent process keeps per
// refinement run: the configuration snapshot, the round counter, and the
// ordered history that is replayed as conversational context on every call.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"sceneloop/internal/protocol"
)

// EntryKind distinguishes what a history entry records.
type EntryKind string

const (
	EntryArtifact EntryKind = "artifact"
	EntryFeedback EntryKind = "feedback"
	EntryEvidence EntryKind = "evidence"
)

// Entry is one element of the replayed history. Exactly one of Artifact,
// Feedback, or Evidence is set, matching Kind.
type Entry struct {
	Kind     EntryKind           `json:"kind"`
	Round    int                 `json:"round"`
	At       time.Time           `json:"at"`
	Artifact *protocol.Artifact  `json:"artifact,omitempty"`
	Feedback *protocol.Feedback  `json:"feedback,omitempty"`
	Evidence []protocol.Evidence `json:"evidence,omitempty"`
}

// Session is the mutable per-run state. Insertion order of history is
// significant; it is the conversation.
type Session struct {
	mu sync.Mutex

	id      string
	role    protocol.Role
	cfg     protocol.SessionCreateParams
	round   int
	history []Entry
	created time.Time
}

// New creates a session with a fresh opaque handle.
func New(cfg protocol.SessionCreateParams) *Session {
	return &Session{
		id:      uuid.NewString(),
		role:    cfg.Role,
		cfg:     cfg,
		created: time.Now(),
	}
}

// ID returns the opaque handle.
func (s *Session) ID() string { return s.id }

// Role returns the session's agent role.
func (s *Session) Role() protocol.Role { return s.role }

// Config returns the configuration snapshot taken at creation.
func (s *Session) Config() protocol.SessionCreateParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Round returns the current round counter.
func (s *Session) Round() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

// NextRound increments and returns the round counter.
func (s *Session) NextRound() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round++
	return s.round
}

// Append adds an entry to the history.
func (s *Session) Append(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, e)
}

// History returns a defensive copy of the ordered history.
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}
