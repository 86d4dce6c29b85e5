package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimtricp/moviesearch/internal/pipeline"
)

func newTestSessions(ttl time.Duration) (*SessionStore, *time.Time) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewSessionStore(ttl, func() *pipeline.Pipeline {
		return pipeline.New(staticSearcher())
	}, nil)
	s.now = func() time.Time { return now }
	return s, &now
}

func sessionFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestSessionStore_ReusesCookie(t *testing.T) {
	s, _ := newTestSessions(time.Hour)
	defer s.Close()

	rec := httptest.NewRecorder()
	first := s.Get(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookie := sessionFrom(t, rec)
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	second := s.Get(rec, req)

	assert.Same(t, first, second)
	assert.Empty(t, rec.Result().Cookies(), "known sessions are not re-issued")
	assert.Equal(t, 1, s.Len())
}

func TestSessionStore_UnknownCookieStartsNewSession(t *testing.T) {
	s, _ := newTestSessions(time.Hour)
	defer s.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "forged"})
	rec := httptest.NewRecorder()
	s.Get(rec, req)

	cookie := sessionFrom(t, rec)
	assert.NotEqual(t, "forged", cookie.Value)
	_, ok := s.Lookup("forged")
	assert.False(t, ok)
}

func TestSessionStore_Sweep(t *testing.T) {
	s, now := newTestSessions(30 * time.Minute)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.Get(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	idle := sessionFrom(t, rec)

	*now = now.Add(20 * time.Minute)
	rec = httptest.NewRecorder()
	s.Get(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	active := sessionFrom(t, rec)

	*now = now.Add(15 * time.Minute)
	_, ok := s.Lookup(active.Value)
	require.True(t, ok)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())

	_, ok = s.Lookup(idle.Value)
	assert.False(t, ok)
	_, ok = s.Lookup(active.Value)
	assert.True(t, ok)
}

func TestSessionStore_SweepDisabled(t *testing.T) {
	s, now := newTestSessions(0)
	defer s.Close()

	s.Get(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	*now = now.Add(24 * time.Hour)

	assert.Zero(t, s.Sweep())
	assert.Equal(t, 1, s.Len())
}
