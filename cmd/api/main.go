package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"checkin/internal/apperr"
	"checkin/internal/attendance"
	"checkin/internal/auth"
	"checkin/internal/client"
	"checkin/internal/config"
	"checkin/internal/httpmiddleware"
	"checkin/internal/kiosk"
	"checkin/internal/logging"
	"checkin/internal/metrics"
	"checkin/internal/queue"
	"checkin/internal/stats"
	"checkin/internal/store"
)

func main() {
	log := logging.New(logging.FromEnv("checkin-api"))
	cfg := config.Load(log)

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api failed")
	}
}

func run(cfg config.App, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	var gateway attendance.Gateway
	fetcher := stats.Fetcher(stats.FetcherFunc(func(context.Context) (stats.Aggregate, error) {
		return stats.Aggregate{}, apperr.New(apperr.KindConfiguration, apperr.MsgConfiguration)
	}))
	cred, err := cfg.Credential()
	if err != nil {
		log.Error().Err(err).Msg("backend not configured, check-ins will fail until it is")
	} else {
		cl, err := client.New(cred,
			client.WithTimeout(cfg.RequestTimeout),
			client.WithLogger(logging.Named(log, "client")),
			client.WithMetrics(m),
		)
		if err != nil {
			return err
		}
		gateway = cl
		fetcher = stats.NewReader(cl, cfg.RecentPageSize, logging.Named(log, "stats"))
		log.Info().Str("base_url", cred.BaseURL).Msg("backend configured")
	}

	trackerOpts := []stats.TrackerOption{
		stats.WithTrackerMetrics(m),
		stats.WithTrackerLogger(logging.Named(log, "stats")),
		stats.WithRefreshTimeout(cfg.RequestTimeout),
	}
	health := map[string]kiosk.HealthCheck{}
	var refresher attendance.Refresher

	if cfg.QueueBackend == "redis" {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		health["redis"] = redisClient.Healthy
		trackerOpts = append(trackerOpts, stats.WithCache(store.NewSnapshotCache(redisClient.Client, "", 0)))
		refresher = queue.NewRefreshPublisher(
			queue.NewRedisQueue(redisClient.Client, "", logging.Named(log, "queue")),
			"api", logging.Named(log, "queue"),
		)
	}

	tracker := stats.NewTracker(fetcher, trackerOpts...)
	if refresher == nil {
		refresher = tracker
	}
	svc := attendance.NewService(gateway,
		attendance.WithRefresher(refresher),
		attendance.WithMetrics(m),
		attendance.WithLogger(logging.Named(log, "checkin")),
	)

	if cfg.OpenEnrollment() {
		log.Warn().Msg("STATION_ENROLL_KEY not set, any client may register a station (dev only)")
	} else if cfg.EnrollKey == "" {
		log.Warn().Msg("STATION_ENROLL_KEY not set, station registration is disabled")
	}
	srv := kiosk.New(kiosk.Deps{
		EnrollKey:      cfg.EnrollKey,
		OpenEnrollment: cfg.OpenEnrollment(),
		CheckIns:       svc,
		Stats:          tracker,
		Issuer:         auth.NewIssuer(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL),
		Limiter:        httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Metrics:        promhttp.Handler(),
		Health:         health,
		Log:            logging.Named(log, "http"),
	})

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout*2 + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpSrv.Addr).Msg("starting server")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		tracker.RequestRefresh()
		if cfg.QueueBackend == "redis" {
			return nil
		}
		// Without a worker this process keeps the aggregate fresh itself.
		ticker := time.NewTicker(cfg.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				tracker.RequestRefresh()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server forced shutdown")
		}
		tracker.Wait()
		return nil
	})

	err = g.Wait()
	log.Info().Msg("server exited")
	return err
}
