package httpmiddleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AccessLog logs one line per request. Requests taking at least slow are logged
// at warn level; slow 0 disables that. Paths in skip are not logged.
func AccessLog(log zerolog.Logger, slow time.Duration, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if _, ok := skipped[path]; ok {
			return
		}
		elapsed := time.Since(start)
		evt := log.Info()
		switch {
		case c.Writer.Status() >= 500:
			evt = log.Error()
		case slow > 0 && elapsed >= slow:
			evt = log.Warn()
		}
		evt.Int("status", c.Writer.Status()).
			Dur("elapsed", elapsed).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("bytes", c.Writer.Size()).
			Str("client_ip", c.ClientIP()).
			Msg("request done")
	}
}
