// Package scanner adapts barcode readers to the check-in flow.
package scanner

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"checkin/internal/metrics"
)

// Source is an input device that can be paused. Decoded codes are delivered to
// the OnDecode callback only while the source is started.
type Source interface {
	Start(ctx context.Context) error
	Stop()
	OnDecode(fn func(code string))
}

// LineSource treats every non-empty line of r as one decoded code. Keyboard-wedge
// and serial readers terminate each scan with a newline.
type LineSource struct {
	r       io.Reader
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	handler func(string)
	active  bool

	once    sync.Once
	done    chan struct{}
	err     error
	dropped atomic.Int64
}

// NewLineSource reads codes from r. m may be nil.
func NewLineSource(r io.Reader, log zerolog.Logger, m *metrics.Metrics) *LineSource {
	return &LineSource{r: r, log: log, metrics: m, done: make(chan struct{})}
}

// OnDecode sets the callback for decoded codes.
func (s *LineSource) OnDecode(fn func(code string)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// Start resumes delivery. The first call also starts reading; reading stops at
// EOF or when ctx is done.
func (s *LineSource) Start(ctx context.Context) error {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	s.once.Do(func() { go s.read(ctx) })
	return nil
}

// Stop pauses delivery. Lines read while stopped are discarded.
func (s *LineSource) Stop() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// Done is closed once the reader is exhausted.
func (s *LineSource) Done() <-chan struct{} { return s.done }

// Err reports the read error that ended the source, if any.
func (s *LineSource) Err() error {
	<-s.done
	return s.err
}

// Dropped counts lines discarded while the source was stopped.
func (s *LineSource) Dropped() int64 { return s.dropped.Load() }

func (s *LineSource) read(ctx context.Context) {
	defer close(s.done)
	sc := bufio.NewScanner(s.r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		code := strings.TrimSpace(sc.Text())
		if code == "" {
			continue
		}

		s.mu.Lock()
		fn, active := s.handler, s.active
		s.mu.Unlock()

		if !active || fn == nil {
			s.dropped.Add(1)
			s.metrics.IncrementScansDropped()
			s.log.Debug().Str("code", code).Msg("scan dropped while paused")
			continue
		}
		fn(code)
	}
	s.err = sc.Err()
}
