package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kdimtricp/moviesearch/internal/metrics"
	"github.com/kdimtricp/moviesearch/internal/pipeline"
)

const sessionCookie = "moviesearch_session"

type session struct {
	pipeline *pipeline.Pipeline
	lastSeen time.Time
}

// SessionStore gives every visitor their own pipeline, keyed by a cookie.
type SessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*session
	ttl         time.Duration
	newPipeline func() *pipeline.Pipeline
	now         func() time.Time
	logger      *slog.Logger
}

func NewSessionStore(ttl time.Duration, newPipeline func() *pipeline.Pipeline, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		sessions:    make(map[string]*session),
		ttl:         ttl,
		newPipeline: newPipeline,
		now:         time.Now,
		logger:      logger,
	}
}

// Get returns the caller's pipeline, starting a new session (and setting the
// cookie) when the request carries none or an expired one.
func (s *SessionStore) Get(w http.ResponseWriter, r *http.Request) *pipeline.Pipeline {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if p, ok := s.Lookup(c.Value); ok {
			return p
		}
	}

	id := uuid.New().String()
	p := s.newPipeline()

	s.mu.Lock()
	s.sessions[id] = &session{pipeline: p, lastSeen: s.now()}
	n := len(s.sessions)
	s.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	s.logger.Debug("session started", "session_id", id)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return p
}

// Lookup finds a live session without creating one.
func (s *SessionStore) Lookup(id string) (*pipeline.Pipeline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.lastSeen = s.now()
	return sess.pipeline, true
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many went.
func (s *SessionStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	var expired []*pipeline.Pipeline
	s.mu.Lock()
	cutoff := s.now().Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			expired = append(expired, sess.pipeline)
			delete(s.sessions, id)
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	for _, p := range expired {
		p.Close()
	}
	if len(expired) > 0 {
		metrics.ActiveSessions.Set(float64(n))
		s.logger.Debug("expired sessions swept", "count", len(expired), "remaining", n)
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is done.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Close ends every session and waits for their lookups.
func (s *SessionStore) Close() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.pipeline.Close()
	}
	metrics.ActiveSessions.Set(0)
}
