// Package client talks to the attendance backend. Every request is signed with the
// shared secret; failures are classified into the apperr taxonomy and never retried here.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"checkin/internal/apperr"
	"checkin/internal/config"
	"checkin/internal/metrics"
	"checkin/internal/signing"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
	logBodyBytes   = 512
)

// Client issues signed JSON requests against the attendance backend.
type Client struct {
	baseURL string
	secret  []byte
	http    *http.Client
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout bounds every request, including reading the response body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithClock sets the time source used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger used for protocol diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics records request latency by path and result.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client for the given credential. A missing secret or base URL is a
// configuration error.
func New(cred config.Credential, opts ...Option) (*Client, error) {
	if len(cred.Secret) == 0 || strings.TrimSpace(cred.BaseURL) == "" {
		return nil, apperr.New(apperr.KindConfiguration, apperr.MsgConfiguration)
	}
	c := &Client{
		baseURL: strings.TrimRight(cred.BaseURL, "/"),
		secret:  bytes.Clone(cred.Secret),
		http:    &http.Client{},
		timeout: defaultTimeout,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		h := *c.http
		h.Timeout = c.timeout
		c.http = &h
	}
	return c, nil
}

// Do sends a signed request and returns the decoded JSON body. payload is encoded
// as the request body; nil means no body, which signs as the empty string.
func (c *Client) Do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindProtocol, "encode request body")
		}
		body = b
	}

	ts := signing.Timestamp(c.now())
	sig := signing.Sign(body, ts, c.secret)

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindConfiguration, apperr.MsgConfiguration)
	}
	req.Header.Set(signing.HeaderTimestamp, ts)
	req.Header.Set(signing.HeaderSignature, sig)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	route, _, _ := strings.Cut(path, "?")
	log := c.log.With().Str("method", method).Str("path", route).Str("request_id", reqID).Logger()
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(route, string(apperr.KindUnreachable), time.Since(start))
		log.Warn().Err(err).Msg("backend unreachable")
		return nil, apperr.Wrap(err, apperr.KindUnreachable, method+" "+route)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.metrics.ObserveRequest(route, string(apperr.KindUnreachable), time.Since(start))
		log.Warn().Err(err).Int("status", resp.StatusCode).Msg("reading backend response failed")
		return nil, apperr.Wrap(err, apperr.KindUnreachable, method+" "+route)
	}

	out, err := decodeResponse(resp, raw)
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
		ev := log.Warn().Err(err).Int("status", resp.StatusCode)
		if apperr.Is(err, apperr.KindProtocol) {
			ev = ev.Str("body", truncate(string(raw), logBodyBytes))
		}
		ev.Msg("backend call failed")
	} else {
		log.Debug().Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("backend call")
	}
	c.metrics.ObserveRequest(route, result, time.Since(start))
	return out, err
}

func decodeResponse(resp *http.Response, raw []byte) (json.RawMessage, error) {
	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	if !isJSON(resp.Header.Get("Content-Type")) {
		text := strings.TrimSpace(string(raw))
		if !success {
			if text == "" {
				text = statusMessage(resp.StatusCode)
			}
			return nil, apperr.Server(resp.StatusCode, truncate(text, logBodyBytes))
		}
		return nil, apperr.Protocol("Server returned non-JSON response", string(raw), nil)
	}

	if !success {
		return nil, apperr.Server(resp.StatusCode, errorDetail(raw, resp.StatusCode))
	}
	if !json.Valid(raw) {
		return nil, apperr.Protocol("malformed JSON response", string(raw), nil)
	}
	return json.RawMessage(raw), nil
}

// errorDetail extracts the backend's detail message. FastAPI sends either a string or,
// for request validation failures, a list of {msg} objects.
func errorDetail(raw []byte, status int) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Detail) == 0 {
		return statusMessage(status)
	}

	var s string
	if err := json.Unmarshal(env.Detail, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
		return statusMessage(status)
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return statusMessage(status)
}

func statusMessage(status int) string {
	return fmt.Sprintf("Request failed with status %d", status)
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
