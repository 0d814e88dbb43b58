package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RefreshPublisher turns refresh requests into queue messages. It never blocks the
// caller; a publish that cannot complete within the timeout is logged and dropped.
type RefreshPublisher struct {
	q       Queue
	station string
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewRefreshPublisher tags messages with station.
func NewRefreshPublisher(q Queue, station string, log zerolog.Logger) *RefreshPublisher {
	return &RefreshPublisher{q: q, station: station, timeout: 2 * time.Second, log: log, now: time.Now}
}

// RequestRefresh publishes a stats.refresh message in the background.
func (p *RefreshPublisher) RequestRefresh() {
	msg := Message{Type: TypeStatsRefresh, Station: p.station, At: p.now().UTC()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.q.Publish(ctx, msg); err != nil {
			p.log.Warn().Err(err).Str("type", msg.Type).Msg("refresh request not queued")
		}
	}()
}
