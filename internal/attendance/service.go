package attendance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"

	"checkin/internal/apperr"
	"checkin/internal/metrics"
)

const maxRegNoLen = 64

// Service runs the check-then-mark flow for one identifier per call.
type Service struct {
	gateway   Gateway
	refresher Refresher
	metrics   *metrics.Metrics
	log       zerolog.Logger
	observe   func(State)

	mu        sync.Mutex
	lastAdded string
}

// Option customises a Service.
type Option func(*Service)

// WithRefresher sets who is asked to rebuild the aggregate after a mark.
func WithRefresher(r Refresher) Option {
	return func(s *Service) { s.refresher = r }
}

// WithMetrics records terminal outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the transition and outcome logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn func(State)) Option {
	return func(s *Service) { s.observe = fn }
}

// NewService creates a service backed by a gateway. A nil gateway makes every
// check-in fail with a configuration error.
func NewService(gateway Gateway, opts ...Option) *Service {
	s := &Service{gateway: gateway, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalize turns raw input into the identifier the backend expects. Typed
// registration numbers are upper-cased; scanned codes keep their case.
func Normalize(raw string, method Method) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", apperr.New(apperr.KindValidation, "Please enter a registration number")
	}
	if len(id) > maxRegNoLen || strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return "", apperr.New(apperr.KindValidation, "Invalid registration number")
	}
	if method != MethodScanned {
		id = strings.ToUpper(id)
	}
	return id, nil
}

// CheckIn checks the registrant and marks them if they have not attended yet.
// It always returns a terminal outcome; failures are never retried.
// Callers must not submit the same identifier again while a call is outstanding.
func (s *Service) CheckIn(ctx context.Context, raw string, method Method) Outcome {
	out := Outcome{State: StateIdle, Method: method}

	regNo, err := Normalize(raw, method)
	if err != nil {
		return s.fail(out, err)
	}
	out.Registrant.RegNo = regNo
	if s.gateway == nil {
		return s.fail(out, apperr.New(apperr.KindConfiguration, apperr.MsgConfiguration))
	}

	s.transition(&out, StateChecking)
	checked, err := s.gateway.CheckAttendance(ctx, regNo)
	if err != nil {
		return s.fail(out, err)
	}
	status, err := toStatus(regNo, checked)
	if err != nil {
		return s.fail(out, err)
	}
	// The check response is the source of truth for registrant details.
	out.Registrant = status.Registrant
	if status.Attended {
		out.AttendedAt = status.AttendedAt
		return s.finish(out, StateAlreadyAttended)
	}

	s.transition(&out, StateMarking)
	marked, err := s.gateway.MarkAttendance(ctx, regNo)
	if err != nil {
		return s.fail(out, err)
	}
	result := toMarkResult(marked)
	if !result.Success {
		if result.Reason != "" {
			return s.fail(out, apperr.New(apperr.KindServer, result.Reason))
		}
		return s.fail(out, apperr.Protocol(fmt.Sprintf("unexpected mark status %q", marked.Status), "", nil))
	}
	out.AttendedAt = result.AttendedAt

	s.mu.Lock()
	s.lastAdded = regNo
	s.mu.Unlock()

	out = s.finish(out, StateMarked)
	if s.refresher != nil {
		s.refresher.RequestRefresh()
	}
	return out
}

// LastAdded returns the identifier of the most recent successful mark.
func (s *Service) LastAdded() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAdded
}

func (s *Service) transition(out *Outcome, next State) {
	s.log.Debug().Str("reg_no", out.Registrant.RegNo).Str("from", string(out.State)).Str("to", string(next)).Msg("check-in transition")
	out.State = next
	if s.observe != nil {
		s.observe(next)
	}
}

func (s *Service) fail(out Outcome, err error) Outcome {
	out.Err = err
	out.Reason = apperr.UserMessage(err)
	return s.finish(out, StateFailed)
}

func (s *Service) finish(out Outcome, terminal State) Outcome {
	s.transition(&out, terminal)
	s.metrics.ObserveOutcome(string(terminal), string(out.Method))

	ev := s.log.Info()
	if out.Err != nil {
		ev = s.log.Warn().Err(out.Err).Str("kind", string(apperr.KindOf(out.Err)))
	}
	ev.Str("reg_no", out.Registrant.RegNo).
		Str("method", string(out.Method)).
		Str("state", string(terminal)).
		Msg("check-in finished")
	return out
}
