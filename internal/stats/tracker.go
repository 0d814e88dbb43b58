package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"checkin/internal/apperr"
	"checkin/internal/metrics"
)

// Fetcher builds a fresh Aggregate. *Reader implements it.
type Fetcher interface {
	Fetch(ctx context.Context) (Aggregate, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (Aggregate, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context) (Aggregate, error) { return f(ctx) }

// Cache persists the last good Aggregate so other processes can serve it.
type Cache interface {
	Load(ctx context.Context) (Aggregate, bool, error)
	Save(ctx context.Context, agg Aggregate) error
}

// View is what a display renders: the last good Aggregate plus whether it is current.
type View struct {
	Stats     Aggregate `json:"stats"`
	Available bool      `json:"available"`
	Stale     bool      `json:"stale"`
	LastError string    `json:"last_error,omitempty"`
}

// Tracker keeps the last good Aggregate. A failed refresh leaves it in place and
// marks the view stale.
type Tracker struct {
	fetcher Fetcher
	cache   Cache
	metrics *metrics.Metrics
	log     zerolog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	current Aggregate
	have    bool
	lastErr error

	pending atomic.Bool
	running atomic.Bool
	wg      sync.WaitGroup
}

// TrackerOption customises a Tracker.
type TrackerOption func(*Tracker)

// WithCache writes every good Aggregate through to c and lets Sync read it back.
func WithCache(c Cache) TrackerOption {
	return func(t *Tracker) { t.cache = c }
}

// WithTrackerMetrics records refresh failures and the latest total.
func WithTrackerMetrics(m *metrics.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// WithTrackerLogger sets the refresh logger.
func WithTrackerLogger(log zerolog.Logger) TrackerOption {
	return func(t *Tracker) { t.log = log }
}

// WithRefreshTimeout bounds background refreshes started by RequestRefresh.
func WithRefreshTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// NewTracker creates a tracker with nothing fetched yet.
func NewTracker(f Fetcher, opts ...TrackerOption) *Tracker {
	t := &Tracker{fetcher: f, log: zerolog.Nop(), timeout: 15 * time.Second}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Refresh fetches synchronously. On failure it returns the previous Aggregate
// together with the error.
func (t *Tracker) Refresh(ctx context.Context) (Aggregate, error) {
	agg, err := t.fetcher.Fetch(ctx)
	if err != nil {
		t.metrics.IncrementStatsRefreshFailures()
		t.log.Warn().Err(err).Str("kind", string(apperr.KindOf(err))).Msg("stats refresh failed")

		t.mu.Lock()
		t.lastErr = err
		prev := t.current
		t.mu.Unlock()
		return prev, err
	}

	t.mu.Lock()
	t.current, t.have, t.lastErr = agg, true, nil
	t.mu.Unlock()

	t.metrics.SetTotalAttendees(agg.Total)
	t.log.Debug().Int("total", agg.Total).Int("recent", len(agg.Recent)).Msg("stats refreshed")

	if t.cache != nil {
		if err := t.cache.Save(ctx, agg); err != nil {
			t.log.Warn().Err(err).Msg("stats snapshot not saved")
		}
	}
	return agg, nil
}

// RequestRefresh schedules a background refresh and returns immediately.
// Requests that arrive while one is running collapse into a single follow-up.
func (t *Tracker) RequestRefresh() {
	t.pending.Store(true)
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	t.wg.Add(1)
	go t.drain()
}

func (t *Tracker) drain() {
	defer t.wg.Done()
	for {
		for t.pending.Swap(false) {
			ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
			_, _ = t.Refresh(ctx)
			cancel()
		}
		t.running.Store(false)
		// A request may have landed between the last Swap and the Store above.
		if !t.pending.Load() || !t.running.CompareAndSwap(false, true) {
			return
		}
	}
}

// Wait blocks until background refreshes have finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Sync adopts the cached snapshot when it is newer than the one held in memory.
func (t *Tracker) Sync(ctx context.Context) error {
	if t.cache == nil {
		return nil
	}
	agg, ok, err := t.cache.Load(ctx)
	if err != nil || !ok {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.have || agg.FetchedAt.After(t.current.FetchedAt) {
		t.current, t.have, t.lastErr = agg, true, nil
	}
	return nil
}

// View returns the last good Aggregate and whether the latest refresh failed.
func (t *Tracker) View() View {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v := View{Stats: t.current, Available: t.have}
	if v.Stats.Recent == nil {
		v.Stats.Recent = []Entry{}
	}
	if t.lastErr != nil {
		v.Stale = true
		v.LastError = apperr.UserMessage(t.lastErr)
	}
	return v
}
