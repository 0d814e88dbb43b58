package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"checkin/internal/apperr"
	"checkin/internal/attendance"
	"checkin/internal/client"
	"checkin/internal/config"
	"checkin/internal/logging"
	"checkin/internal/metrics"
	"checkin/internal/scanner"
	"checkin/internal/stats"
)

// Terminal check-in station. CHECKIN_INPUT=manual reads one registration number per
// line; CHECKIN_INPUT=scanner treats stdin as a barcode reader and drops scans that
// arrive while a check-in is in progress.
func main() {
	opt := logging.FromEnv("checkin-station")
	opt.Writer = os.Stderr
	log := logging.New(opt)
	cfg := config.Load(log)

	if err := run(cfg, log, os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("station failed")
	}
}

func run(cfg config.App, log zerolog.Logger, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cred, err := cfg.Credential()
	if err != nil {
		fmt.Fprintf(out, "Error\n%s\n", apperr.UserMessage(err))
		return err
	}
	m := metrics.New(prometheus.NewRegistry())
	cl, err := client.New(cred,
		client.WithTimeout(cfg.RequestTimeout),
		client.WithLogger(logging.Named(log, "client")),
		client.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	tracker := stats.NewTracker(
		stats.NewReader(cl, cfg.RecentPageSize, logging.Named(log, "stats")),
		stats.WithTrackerLogger(logging.Named(log, "stats")),
		stats.WithTrackerMetrics(m),
		stats.WithRefreshTimeout(cfg.RequestTimeout),
	)
	svc := attendance.NewService(cl,
		attendance.WithRefresher(tracker),
		attendance.WithMetrics(m),
		attendance.WithLogger(logging.Named(log, "checkin")),
	)
	st := &station{svc: svc, tracker: tracker, out: out}

	if _, err := tracker.Refresh(ctx); err == nil {
		st.printTotals()
	}

	switch cfg.InputMode {
	case "scanner":
		return st.scan(ctx, in, log, m)
	default:
		return st.manual(ctx, in)
	}
}

type station struct {
	svc     *attendance.Service
	tracker *stats.Tracker
	mu      sync.Mutex
	out     io.Writer
}

// manual blocks on each submission, so nothing typed meanwhile is lost or doubled.
func (s *station) manual(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	s.prompt()
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		s.handle(ctx, sc.Text(), attendance.MethodManual)
		s.prompt()
	}
	s.tracker.Wait()
	return sc.Err()
}

func (s *station) scan(ctx context.Context, in io.Reader, log zerolog.Logger, m *metrics.Metrics) error {
	src := scanner.NewLineSource(in, logging.Named(log, "scanner"), m)
	gate := scanner.NewGate(src, func(ctx context.Context, code string) {
		s.handle(ctx, code, attendance.MethodScanned)
	}, scanner.WithGateMetrics(m), scanner.WithGateLogger(logging.Named(log, "scanner")))

	if err := gate.Open(ctx); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Scanner ready")
	select {
	case <-src.Done():
	case <-ctx.Done():
	}
	gate.Wait()
	s.tracker.Wait()
	if n := src.Dropped() + gate.Dropped(); n > 0 {
		log.Info().Int64("dropped", n).Msg("scans dropped while processing")
	}
	if ctx.Err() != nil {
		return nil
	}
	return src.Err()
}

// handle runs one check-in and, after a successful mark, waits for the refreshed totals.
func (s *station) handle(ctx context.Context, raw string, method attendance.Method) {
	o := s.svc.CheckIn(ctx, raw, method)
	s.report(o)
	if o.State == attendance.StateMarked {
		s.tracker.Wait()
		s.printTotals()
	}
}

func (s *station) prompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, "Registration number: ")
}

func (s *station) report(o attendance.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "\n== %s ==\n%s\n", o.Title(), o.Message())
	if last := s.svc.LastAdded(); last != "" {
		fmt.Fprintf(s.out, "Last added: %s\n", last)
	}
	fmt.Fprintln(s.out, strings.Repeat("-", 32))
}

func (s *station) printTotals() {
	v := s.tracker.View()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "Total attendees: %d (scanned %d, manual %d)\n", v.Stats.Total, v.Stats.Scanned, v.Stats.Manual)
	if v.Stale {
		fmt.Fprintf(s.out, "Stats may be out of date: %s\n", v.LastError)
	}
	for _, e := range v.Stats.Recent {
		fmt.Fprintf(s.out, "  %s  %-12s %-20s %s\n", e.Timestamp, e.RegNo, e.Name, e.Method)
	}
}
