package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"checkin/internal/client"
	"checkin/internal/config"
	"checkin/internal/logging"
	"checkin/internal/metrics"
	"checkin/internal/queue"
	"checkin/internal/stats"
	"checkin/internal/store"
)

// Worker keeps the shared stats snapshot in Redis fresh. It refreshes on every
// queued request and on a fixed interval.
func main() {
	log := logging.New(logging.FromEnv("checkin-worker"))
	cfg := config.Load(log)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("worker failed")
	}
}

func run(cfg config.App, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend != "redis" {
		return errors.New("worker needs QUEUE_BACKEND=redis; with the memory backend the api refreshes stats itself")
	}

	cred, err := cfg.Credential()
	if err != nil {
		return err
	}
	m := metrics.New(prometheus.DefaultRegisterer)
	cl, err := client.New(cred,
		client.WithTimeout(cfg.RequestTimeout),
		client.WithLogger(logging.Named(log, "client")),
		client.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable yet, will keep retrying")
	}

	tracker := stats.NewTracker(
		stats.NewReader(cl, cfg.RecentPageSize, logging.Named(log, "stats")),
		stats.WithCache(store.NewSnapshotCache(redisClient.Client, "", 0)),
		stats.WithTrackerMetrics(m),
		stats.WithTrackerLogger(logging.Named(log, "stats")),
	)
	q := queue.NewRedisQueue(redisClient.Client, "", logging.Named(log, "queue"))

	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}

	refresh := func(reason string) {
		rctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
		start := time.Now()
		if agg, err := tracker.Refresh(rctx); err == nil {
			log.Info().Str("reason", reason).Int("total", agg.Total).Dur("elapsed", time.Since(start)).Msg("snapshot updated")
		}
	}

	log.Info().Dur("interval", cfg.StatsInterval).Msg("worker started, waiting for messages")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for msg := range messages {
			if msg.Type != queue.TypeStatsRefresh {
				log.Debug().Str("type", msg.Type).Msg("ignoring message")
				continue
			}
			refresh("request:" + msg.Station)
		}
		return nil
	})
	g.Go(func() error {
		refresh("startup")
		ticker := time.NewTicker(cfg.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				refresh("interval")
			}
		}
	})

	err = g.Wait()
	log.Info().Msg("worker stopped")
	return err
}
