package stats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Source is the read side of the backend. *client.Client implements it.
type Source interface {
	Stats(ctx context.Context) (json.RawMessage, error)
	RecentStudents(ctx context.Context, page, perPage int) (json.RawMessage, error)
}

// Reader fetches and merges the summary and recent listing endpoints.
type Reader struct {
	src     Source
	perPage int
	log     zerolog.Logger
	now     func() time.Time
}

// NewReader creates a reader. perPage <= 0 disables the recent listing call.
func NewReader(src Source, perPage int, log zerolog.Logger) *Reader {
	return &Reader{src: src, perPage: perPage, log: log, now: time.Now}
}

// Fetch builds a fresh Aggregate. A failed /stats call fails the fetch; a failed
// listing call only leaves the recent list as reported by /stats.
func (r *Reader) Fetch(ctx context.Context) (Aggregate, error) {
	var summaryRaw, listRaw json.RawMessage
	var listErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := r.src.Stats(gctx)
		summaryRaw = raw
		return err
	})
	if r.perPage > 0 {
		g.Go(func() error {
			listRaw, listErr = r.src.RecentStudents(gctx, 1, r.perPage)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Aggregate{}, err
	}

	agg, err := Parse(summaryRaw)
	if err != nil {
		return Aggregate{}, err
	}

	switch {
	case listErr != nil:
		r.log.Warn().Err(listErr).Msg("recent listing unavailable")
	case len(agg.Recent) == 0 && len(listRaw) > 0:
		listing, err := Parse(listRaw)
		if err != nil {
			r.log.Warn().Err(err).Msg("recent listing unreadable")
			break
		}
		agg.Recent = listing.Recent
	}

	agg.FetchedAt = r.now().UTC()
	return agg, nil
}
