// Package sessionstore implements the ephemeral per-turn session: the
// reshaped snapshot workflow C consumes, plus its tool-loop mutators,
// expiry sweeper, and LRU eviction (spec §4.3).
package sessionstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Config carries the subset of system.json's session_manager section the
// store needs.
type Config struct {
	SessionTimeoutMinutes int `yaml:"session_timeout_minutes"`
	MaxSessions           int `yaml:"max_sessions"`
}

// CleanupFunc is invoked once per destroyed session, e.g. so the workflow
// engine can drop that session's tool-call tracking records.
type CleanupFunc func(sessionID string)

// Store owns every in-flight ephemeral session.
type Store struct {
	cfg      Config
	resolver ImageResolver
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*models.EphemeralSession
	cleanups []CleanupFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Store. resolver may be nil (remote images are then
// always dropped rather than resolved).
func New(cfg Config, resolver ImageResolver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTimeoutMinutes <= 0 {
		cfg.SessionTimeoutMinutes = 30
	}
	return &Store{
		cfg:      cfg,
		resolver: resolver,
		logger:   logger.With("component", "session_store"),
		sessions: make(map[string]*models.EphemeralSession),
		stopCh:   make(chan struct{}),
	}
}

// RegisterCleanup adds a callback invoked whenever a session is destroyed
// (completion, timeout, expiry, or explicit Cleanup).
func (s *Store) RegisterCleanup(fn CleanupFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, fn)
}

// Create builds an ephemeral session from a context snapshot (spec §4.3).
// tools is included only when snapshot.ToolsCall is true.
func (s *Store) Create(ctx context.Context, snapshot *models.ConversationContext, tools []models.ToolDefinition) (string, error) {
	if snapshot == nil {
		return "", fmt.Errorf("sessionstore: nil snapshot")
	}

	data := reshape(ctx, snapshot.ChatID, snapshot, s.resolver)

	session := &models.EphemeralSession{
		SessionID:   uuid.NewString(),
		ChatID:      snapshot.ChatID,
		CreatedAt:   time.Now(),
		LastUpdated: time.Now(),
		Model:       snapshot.Model,
		MaxTokens:   snapshot.MaxTokens,
		Temperature: snapshot.Temperature,
		Stream:      snapshot.Stream,
		Data:        data,
	}
	if snapshot.ToolsCall {
		session.Tools = tools
	}

	s.mu.Lock()
	s.sessions[session.SessionID] = session
	overflow := s.cfg.MaxSessions > 0 && len(s.sessions) > s.cfg.MaxSessions
	var evictID string
	if overflow {
		evictID = s.lruLocked()
	}
	s.mu.Unlock()

	if evictID != "" {
		s.logger.Warn("session population exceeded max_sessions, evicting LRU", "evicted", evictID)
		s.Cleanup(evictID)
	}

	return session.SessionID, nil
}

// lruLocked returns the session_id with the oldest last_updated, excluding
// nothing (mu must be held by the caller).
func (s *Store) lruLocked() string {
	var oldestID string
	var oldest time.Time
	for id, sess := range s.sessions {
		if oldestID == "" || sess.LastUpdated.Before(oldest) {
			oldestID = id
			oldest = sess.LastUpdated
		}
	}
	return oldestID
}

// Get returns a deep copy of the session's current state.
func (s *Store) Get(sessionID string) (*models.EphemeralSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("sessionstore: unknown session %q", sessionID)
	}
	return sess.Clone(), nil
}

// AddToolCallMessage appends the assistant message carrying tool_calls.
func (s *Store) AddToolCallMessage(sessionID string, assistant models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("sessionstore: unknown session %q", sessionID)
	}
	sess.Data = append(sess.Data, assistant)
	sess.LastUpdated = time.Now()
	return nil
}

// AddToolResults appends one or more tool-role messages and bumps
// tool_call_count by the number appended (spec P6).
func (s *Store) AddToolResults(sessionID string, results []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("sessionstore: unknown session %q", sessionID)
	}
	sess.Data = append(sess.Data, results...)
	sess.ToolCallCount += len(results)
	sess.LastUpdated = time.Now()
	return nil
}

// Cleanup destroys a session and invokes every registered cleanup
// callback. Cleaning up an already-gone session is a no-op.
func (s *Store) Cleanup(sessionID string) {
	s.mu.Lock()
	_, existed := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	callbacks := append([]CleanupFunc(nil), s.cleanups...)
	s.mu.Unlock()

	if !existed {
		return
	}
	for _, fn := range callbacks {
		fn(sessionID)
	}
}

// Run starts the 60s expiry sweeper. It returns once ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

// Stop signals Run to exit and waits for it.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Store) sweepExpired() {
	cutoff := time.Duration(s.cfg.SessionTimeoutMinutes) * time.Minute
	now := time.Now()

	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		if now.Sub(sess.LastUpdated) >= cutoff {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.logger.Info("session expired", "session_id", id)
		s.Cleanup(id)
	}
}

// Count returns the current in-memory session population.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
