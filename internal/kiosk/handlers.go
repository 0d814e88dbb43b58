package kiosk

import (
	"crypto/hmac"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"checkin/internal/apperr"
	"checkin/internal/attendance"
	"checkin/internal/auth"
)

const headerEnrollKey = "X-Enroll-Key"

type registerRequest struct {
	StationID string `json:"station_id" binding:"omitempty,max=64,printascii"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type checkInRequest struct {
	RegNo  string `json:"reg_no"`
	Method string `json:"method"`
}

type checkInResponse struct {
	State      attendance.State  `json:"state"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	RegNo      string            `json:"reg_no,omitempty"`
	Name       string            `json:"name,omitempty"`
	Year       string            `json:"year,omitempty"`
	Department string            `json:"department,omitempty"`
	Method     attendance.Method `json:"method"`
	AttendedAt string            `json:"attended_at,omitempty"`
	Retryable  bool              `json:"retryable"`
	LastAdded  string            `json:"last_added,omitempty"`
}

// enrolled reports whether the request carries the enrollment key.
func (s *Server) enrolled(c *gin.Context) bool {
	if s.deps.EnrollKey == "" {
		return s.deps.OpenEnrollment
	}
	return hmac.Equal([]byte(c.GetHeader(headerEnrollKey)), []byte(s.deps.EnrollKey))
}

func (s *Server) register(c *gin.Context) {
	if !s.enrolled(c) {
		s.log.Warn().Str("client_ip", c.ClientIP()).Msg("station registration refused")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "enrollment key required"})
		return
	}

	var req registerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	station := strings.TrimSpace(req.StationID)
	if station == "" {
		station = uuid.NewString()
	}

	pair, err := s.deps.Issuer.Issue(station)
	if err != nil {
		s.log.Error().Err(err).Str("station", station).Msg("token issue failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	s.log.Info().Str("station", station).Msg("station registered")
	c.JSON(http.StatusCreated, gin.H{"station_id": station, "tokens": pair})
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := s.deps.Issuer.Parse(req.RefreshToken, auth.KindRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	pair, err := s.deps.Issuer.Issue(claims.Subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"station_id": claims.Subject, "tokens": pair})
}

func (s *Server) checkIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	station := auth.Station(c)
	if !s.acquire(station) {
		c.JSON(http.StatusConflict, gin.H{"error": "a check-in from this station is already in progress"})
		return
	}
	defer s.release(station)

	out := s.deps.CheckIns.CheckIn(c.Request.Context(), req.RegNo, attendance.ParseMethod(req.Method))
	c.JSON(statusFor(out), checkInResponse{
		State:      out.State,
		Title:      out.Title(),
		Message:    out.Message(),
		RegNo:      out.Registrant.RegNo,
		Name:       out.Registrant.Name,
		Year:       out.Registrant.Year,
		Department: out.Registrant.Department,
		Method:     out.Method,
		AttendedAt: out.AttendedAt,
		Retryable:  apperr.Retryable(out.Err),
		LastAdded:  s.deps.CheckIns.LastAdded(),
	})
}

func statusFor(out attendance.Outcome) int {
	if out.OK() {
		return http.StatusOK
	}
	switch apperr.KindOf(out.Err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConfiguration:
		return http.StatusServiceUnavailable
	case apperr.KindUnreachable, apperr.KindProtocol:
		return http.StatusBadGateway
	case apperr.KindServer:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) stats(c *gin.Context) {
	if err := s.deps.Stats.Sync(c.Request.Context()); err != nil {
		s.log.Warn().Err(err).Msg("stats snapshot unavailable")
	}
	view := s.deps.Stats.View()
	if !view.Available {
		c.JSON(http.StatusServiceUnavailable, view)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.deps.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	if s.deps.Stats != nil {
		view := s.deps.Stats.View()
		body["stats_available"] = view.Available
		body["stats_stale"] = view.Stale
	}
	c.JSON(status, body)
}
