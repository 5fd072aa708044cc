// Package memory keeps per-session conversation history in process memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/policyagent/internal/domain"
	"github.com/liliang-cn/policyagent/internal/llm"
	"go.uber.org/zap"
)

// ActiveWindow is how recent a session's last activity must be to count as
// active in Stats.
const ActiveWindow = 5 * time.Minute

// Archive reasons passed to an Archiver
const (
	ReasonExpired = "expired"
	ReasonDeleted = "deleted"
)

// Archiver receives sessions after they are dropped from memory
type Archiver interface {
	Archive(ctx context.Context, session *domain.Session, reason string) error
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithArchiver hands removed sessions to a
func WithArchiver(a Archiver) Option {
	return func(s *Store) { s.archiver = a }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger.Named("memory") }
}

// Store is the process-wide conversation store. Every read and write goes
// through one lock, and callers only ever see copies.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*domain.Session
	maxHistory int
	timeout    time.Duration
	now        func() time.Time
	archiver   Archiver
	logger     *zap.Logger
}

// NewStore creates a store. Sessions keep at most 2*maxHistory messages and
// expire after timeout without activity.
func NewStore(maxHistory int, timeout time.Duration, opts ...Option) *Store {
	if maxHistory < 1 {
		maxHistory = 1
	}
	s := &Store{
		sessions:   make(map[string]*domain.Session),
		maxHistory: maxHistory,
		timeout:    timeout,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession creates an empty session and returns its id. An empty id
// gets a fresh UUID; an existing id is left untouched.
func (s *Store) CreateSession(id string) string {
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		s.sessions[id] = s.newSession(id)
		s.logger.Debug("Session created", zap.String("session_id", id))
	}
	return id
}

// newSession must be called with the lock held
func (s *Store) newSession(id string) *domain.Session {
	now := s.now()
	return &domain.Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     map[string]any{},
	}
}

// AddMessage appends a message, creating the session when missing, and
// trims the oldest messages beyond 2*maxHistory.
func (s *Store) AddMessage(id string, role domain.Role, content string, sources []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = s.newSession(id)
		s.sessions[id] = sess
	}

	now := s.now()
	sess.Messages = append(sess.Messages, domain.Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
		Sources:   append([]string(nil), sources...),
	})
	if now.After(sess.LastActivity) {
		sess.LastActivity = now
	}

	if limit := 2 * s.maxHistory; len(sess.Messages) > limit {
		kept := make([]domain.Message, limit)
		copy(kept, sess.Messages[len(sess.Messages)-limit:])
		sess.Messages = kept
	}
}

// History returns the last n messages in chronological order, or all of
// them when n is not positive. Unknown sessions yield nil.
func (s *Store) History(id string, n int) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	msgs := sess.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		m.Sources = append([]string(nil), m.Sources...)
		out[i] = m
	}
	return out
}

// FormattedHistory is History reduced to role and content for a model call
func (s *Store) FormattedHistory(id string, n int) []llm.ChatMessage {
	history := s.History(id, n)
	out := make([]llm.ChatMessage, len(history))
	for i, m := range history {
		out[i] = llm.ChatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// Exists reports whether the session is held in memory
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Info summarises a session
func (s *Store) Info(id string) (domain.SessionInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.SessionInfo{}, false
	}
	return domain.SessionInfo{
		SessionID:    sess.ID,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		MessageCount: len(sess.Messages),
	}, true
}

// Delete removes a session and reports whether one existed
func (s *Store) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if ok {
		s.archive(ctx, []*domain.Session{sess}, ReasonDeleted)
	}
	return ok
}

// CleanupExpired removes every session idle for longer than the timeout and
// returns how many were removed. Removal happens in one critical section.
func (s *Store) CleanupExpired(ctx context.Context) int {
	s.mu.Lock()
	now := s.now()
	var expired []*domain.Session
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > s.timeout {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.logger.Info("Expired sessions removed", zap.Int("count", len(expired)))
		s.archive(ctx, expired, ReasonExpired)
	}
	return len(expired)
}

// archive is best effort; removed sessions are no longer shared, so no lock
// is needed.
func (s *Store) archive(ctx context.Context, sessions []*domain.Session, reason string) {
	if s.archiver == nil {
		return
	}
	for _, sess := range sessions {
		if err := s.archiver.Archive(ctx, sess, reason); err != nil {
			s.logger.Warn("Failed to archive session",
				zap.String("session_id", sess.ID),
				zap.String("reason", reason),
				zap.Error(err),
			)
		}
	}
}

// Stats returns totals over all sessions held in memory
func (s *Store) Stats() domain.MemoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	stats := domain.MemoryStats{TotalSessions: len(s.sessions)}
	for _, sess := range s.sessions {
		stats.TotalMessages += len(sess.Messages)
		if now.Sub(sess.LastActivity) <= ActiveWindow {
			stats.ActiveSessions++
		}
	}
	return stats
}
