// Package pipeline owns the state of one search: the submitted query, the
// lookup in flight, the fetched results and the view controls.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kdimtricp/moviesearch/internal/metrics"
	"github.com/kdimtricp/moviesearch/internal/models"
	"github.com/kdimtricp/moviesearch/internal/search"
)

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

// State is an immutable snapshot. Every change produces a new value.
type State struct {
	Status    Status
	Query     string
	Seq       uint64
	Results   []models.Movie
	Err       string
	MinRating float64
	Sort      SortDirection
}

// View is the filtered and sorted projection of the results.
func (s State) View() []models.Movie {
	return DeriveView(s.Results, s.MinRating, s.Sort)
}

// Outcome is what a lookup reports back.
type Outcome struct {
	Movies []models.Movie
	Err    error
}

func Success(movies []models.Movie) Outcome {
	return Outcome{Movies: movies}
}

func Failure(err error) Outcome {
	return Outcome{Err: err}
}

// ErrClosed is the failure recorded for queries submitted after Close.
var ErrClosed = &search.LookupError{Message: "The search was cancelled.", Err: context.Canceled}

// Ticket identifies one submission. Only the latest ticket's outcome is applied.
type Ticket uint64

type Pipeline struct {
	searcher search.Searcher
	logger   *slog.Logger
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	changed chan struct{}
	closed  bool

	inflight sync.WaitGroup
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithLookupTimeout bounds each lookup. Zero means no bound beyond the transport's.
func WithLookupTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

func New(searcher search.Searcher, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		searcher: searcher,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit starts a search for raw. Blank input returns the pipeline to Idle
// without a lookup. Any lookup still in flight is superseded either way.
// After Close, a non-blank query fails at once without a lookup.
func (p *Pipeline) Submit(raw string) Ticket {
	query := strings.TrimSpace(raw)

	var (
		seq   uint64
		start bool
	)
	p.update(func(s *State) {
		s.Seq++
		seq = s.Seq
		s.Query = query
		s.Results = nil
		s.Err = ""
		switch {
		case query == "":
			s.Status = StatusIdle
		case p.closed:
			s.Status = StatusFailed
			s.Err = search.DisplayMessage(ErrClosed)
		default:
			s.Status = StatusLoading
			// Counted under mu so Close never waits while a lookup is being added.
			p.inflight.Add(1)
			start = true
		}
	})

	if !start {
		return Ticket(seq)
	}

	p.logger.Debug("lookup started", "query", query, "seq", seq)
	go p.lookup(Ticket(seq), query)

	return Ticket(seq)
}

// Apply records the outcome of ticket t. It returns false, leaving the state
// untouched, when t is no longer the current submission.
func (p *Pipeline) Apply(t Ticket, outcome Outcome) bool {
	applied := false
	p.update(func(s *State) {
		if s.Seq != uint64(t) || s.Status != StatusLoading {
			return
		}
		applied = true
		if outcome.Err != nil {
			s.Status = StatusFailed
			s.Results = nil
			s.Err = search.DisplayMessage(outcome.Err)
			return
		}
		s.Status = StatusReady
		s.Err = ""
		s.Results = cloneMovies(outcome.Movies)
	})
	return applied
}

func (p *Pipeline) SetMinRating(v float64) error {
	if err := validateMinRating(v); err != nil {
		return err
	}
	p.update(func(s *State) {
		s.MinRating = v
	})
	return nil
}

func (p *Pipeline) SetSortDirection(d SortDirection) {
	p.update(func(s *State) {
		s.Sort = d
	})
}

func (p *Pipeline) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state
	st.Results = cloneMovies(st.Results)
	return st
}

func (p *Pipeline) View() []models.Movie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.View()
}

// Wait blocks until ticket t has settled or been superseded, or ctx ends.
// The returned state is the latest snapshot either way.
func (p *Pipeline) Wait(ctx context.Context, t Ticket) (State, error) {
	for {
		p.mu.Lock()
		st := p.state
		ch := p.changed
		p.mu.Unlock()

		if st.Seq != uint64(t) || st.Status != StatusLoading {
			st.Results = cloneMovies(st.Results)
			return st, nil
		}

		select {
		case <-ctx.Done():
			st.Results = cloneMovies(st.Results)
			return st, ctx.Err()
		case <-ch:
		}
	}
}

// Drain waits for every lookup goroutine to finish.
func (p *Pipeline) Drain() {
	p.inflight.Wait()
}

// Close cancels lookups in flight and waits for them to return. Later
// submissions start no lookups.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.inflight.Wait()
}

func (p *Pipeline) update(fn func(s *State)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.state
	fn(&next)
	p.state = next

	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Pipeline) lookup(t Ticket, query string) {
	defer p.inflight.Done()

	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	outcome := p.run(ctx, query)
	metrics.LookupDuration.Observe(time.Since(start).Seconds())

	if outcome.Err != nil {
		metrics.LookupsTotal.WithLabelValues("failure").Inc()
		p.logger.Warn("lookup failed", "query", query, "seq", uint64(t), "error", outcome.Err)
	} else {
		metrics.LookupsTotal.WithLabelValues("success").Inc()
	}

	if !p.Apply(t, outcome) {
		metrics.StaleResultsTotal.Inc()
		p.logger.Debug("discarded stale lookup", "query", query, "seq", uint64(t))
	}
}

func (p *Pipeline) run(ctx context.Context, query string) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Failure(fmt.Errorf("lookup panicked: %v", r))
		}
	}()

	movies, err := p.searcher.Search(ctx, query)
	if err != nil {
		return Failure(err)
	}
	return Success(movies)
}

func cloneMovies(in []models.Movie) []models.Movie {
	if in == nil {
		return nil
	}
	out := make([]models.Movie, len(in))
	copy(out, in)
	return out
}
