package scanner

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"checkin/internal/metrics"
)

// Handler processes one decoded code. The gate keeps the source paused until it returns.
type Handler func(ctx context.Context, code string)

// Gate allows one outstanding handler invocation per source. Codes decoded while
// one is running are dropped.
type Gate struct {
	src     Source
	handle  Handler
	metrics *metrics.Metrics
	log     zerolog.Logger

	busy    atomic.Bool
	dropped atomic.Int64
	wg      sync.WaitGroup
	ctx     context.Context
}

// GateOption customises a Gate.
type GateOption func(*Gate)

// WithGateMetrics counts dropped scans.
func WithGateMetrics(m *metrics.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// WithGateLogger sets the gate logger.
func WithGateLogger(log zerolog.Logger) GateOption {
	return func(g *Gate) { g.log = log }
}

// NewGate binds handle to src. Call Open to start.
func NewGate(src Source, handle Handler, opts ...GateOption) *Gate {
	g := &Gate{src: src, handle: handle, log: zerolog.Nop(), ctx: context.Background()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Open wires the gate to its source and starts it. Handlers run with ctx.
func (g *Gate) Open(ctx context.Context) error {
	g.ctx = ctx
	g.src.OnDecode(g.decode)
	return g.src.Start(ctx)
}

// Busy reports whether a handler invocation is outstanding.
func (g *Gate) Busy() bool { return g.busy.Load() }

// Dropped counts codes the gate itself rejected while busy.
func (g *Gate) Dropped() int64 { return g.dropped.Load() }

// Wait blocks until the outstanding handler, if any, has returned.
func (g *Gate) Wait() { g.wg.Wait() }

func (g *Gate) decode(code string) {
	if !g.busy.CompareAndSwap(false, true) {
		g.dropped.Add(1)
		g.metrics.IncrementScansDropped()
		g.log.Debug().Str("code", code).Msg("scan dropped while processing")
		return
	}
	g.src.Stop()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.handle(g.ctx, code)
		g.busy.Store(false)
		if g.ctx.Err() != nil {
			return
		}
		if err := g.src.Start(g.ctx); err != nil {
			g.log.Error().Err(err).Msg("scanner restart failed")
		}
	}()
}
