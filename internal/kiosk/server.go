// Package kiosk is the HTTP API that check-in stations on the LAN talk to. It holds
// the backend secret so stations never see it.
package kiosk

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"checkin/internal/attendance"
	"checkin/internal/auth"
	"checkin/internal/httpmiddleware"
	"checkin/internal/stats"
)

// CheckIner runs one check-in. *attendance.Service implements it.
type CheckIner interface {
	CheckIn(ctx context.Context, raw string, method attendance.Method) attendance.Outcome
	LastAdded() string
}

// StatsViewer serves the aggregate. *stats.Tracker implements it.
type StatsViewer interface {
	Sync(ctx context.Context) error
	View() stats.View
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	// EnrollKey must accompany station registration. With OpenEnrollment set
	// and no key, any caller may register; meant for local development only.
	EnrollKey      string
	OpenEnrollment bool

	CheckIns CheckIner
	Stats    StatsViewer
	Issuer   *auth.Issuer
	Limiter  *httpmiddleware.TokenBucket
	Metrics  http.Handler
	Health   map[string]HealthCheck
	Log      zerolog.Logger
}

// Server serves the station API. One check-in per station may be outstanding.
type Server struct {
	deps Deps
	log  zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a server from deps.
func New(deps Deps) *Server {
	return &Server{deps: deps, log: deps.Log, inFlight: make(map[string]struct{})}
}

// Router builds the gin engine with every route and middleware installed.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.AccessLog(s.log, 2*time.Second, "/healthz", "/metrics"))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())

	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	r.GET("/healthz", s.healthz)

	v1 := r.Group("/v1")
	if s.deps.Limiter != nil {
		v1.Use(s.deps.Limiter.Middleware(nil))
	}
	v1.POST("/stations/register", s.register)
	v1.POST("/stations/refresh", s.refresh)

	authed := v1.Group("", auth.StationAuth(s.deps.Issuer))
	if s.deps.Limiter != nil {
		authed.Use(s.deps.Limiter.Middleware(func(c *gin.Context) string { return "station:" + auth.Station(c) }))
	}
	authed.POST("/checkins", s.checkIn)
	authed.GET("/stats", s.stats)
	return r
}

// acquire marks station busy. It fails when a check-in from station is outstanding.
func (s *Server) acquire(station string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[station]; busy {
		return false
	}
	s.inFlight[station] = struct{}{}
	return true
}

func (s *Server) release(station string) {
	s.mu.Lock()
	delete(s.inFlight, station)
	s.mu.Unlock()
}
