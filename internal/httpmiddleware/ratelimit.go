// Package httpmiddleware holds gin middleware shared by the station API.
package httpmiddleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc picks the bucket a request draws from.
type KeyFunc func(c *gin.Context) string

// TokenBucket is an in-memory limiter refilled continuously at rate per minute.
type TokenBucket struct {
	capacity float64
	perSec   float64
	now      func() time.Time

	mu        sync.Mutex
	state     map[string]*bucket
	lastSweep time.Time
}

// sweepEvery is also the minimum idle time before a full bucket is dropped.
const sweepEvery = time.Minute

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates a limiter. capacity <= 0 means one minute's worth of tokens.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: float64(capacity),
		perSec:   float64(perMinute) / 60,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// Middleware rejects requests with 429 once key's bucket is empty. A nil key
// function limits by client IP.
func (l *TokenBucket) Middleware(key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientIP
	}
	return func(c *gin.Context) {
		k := key(c)
		if k == "" {
			k = "unknown"
		}
		ok, wait := l.Allow(k)
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(wait.Seconds()+0.999)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

// Allow takes one token for key. When none is left it reports how long until one is.
func (l *TokenBucket) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= sweepEvery {
		l.sweep(now)
	}
	b, ok := l.state[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.state[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.perSec
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens < 1 {
		if l.perSec <= 0 {
			return false, time.Minute
		}
		return false, time.Duration((1 - b.tokens) / l.perSec * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

// sweep drops buckets that have refilled to capacity while idle. A dropped bucket
// behaves exactly like the fresh one created on the key's next request.
func (l *TokenBucket) sweep(now time.Time) {
	l.lastSweep = now
	for key, b := range l.state {
		idle := now.Sub(b.last)
		if idle >= sweepEvery && b.tokens+idle.Seconds()*l.perSec >= l.capacity {
			delete(l.state, key)
		}
	}
}

// ClientIP keys requests by the client address gin resolves.
func ClientIP(c *gin.Context) string { return c.ClientIP() }
