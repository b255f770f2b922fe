package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbassist/internal/pkg/errcode"
	"github.com/xxxsen/kbassist/internal/pkg/response"
)

// rateLimiter lets one request per window through for each session and route.
type rateLimiter struct {
	mu            sync.Mutex
	window        time.Duration
	last          map[string]time.Time
	sweepInterval time.Duration
	lastSweep     time.Time
	now           func() time.Time
	reject        gin.HandlerFunc
}

// RateLimit answers a rejected request with the ErrTooMany api envelope.
func RateLimit(window time.Duration) gin.HandlerFunc {
	return RateLimitWith(window, nil)
}

// RateLimitWith lets reject write the response for a rejected request, e.g. a
// redirect for browser forms. A nil reject falls back to the api envelope.
func RateLimitWith(window time.Duration, reject gin.HandlerFunc) gin.HandlerFunc {
	limiter := &rateLimiter{
		window:        window,
		last:          make(map[string]time.Time),
		sweepInterval: time.Minute,
		now:           time.Now,
		reject:        reject,
	}
	return limiter.handle
}

func (l *rateLimiter) handle(c *gin.Context) {
	if l.window <= 0 {
		c.Next()
		return
	}
	owner := c.ClientIP()
	if sess := GetSession(c); sess != nil {
		owner = sess.ID()
	}
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	key := strings.Join([]string{owner, c.Request.Method, path}, "|")

	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.sweepInterval {
		l.cleanupExpiredLocked(now)
	}
	last, exists := l.last[key]
	if exists && now.Sub(last) < l.window {
		l.mu.Unlock()
		logutil.GetLogger(c.Request.Context()).Warn("rate limit hit",
			zap.String("owner", owner),
			zap.String("path", path),
		)
		if l.reject != nil {
			l.reject(c)
			c.Abort()
			return
		}
		response.Abort(c, errcode.ErrTooMany, http.StatusText(http.StatusTooManyRequests))
		return
	}
	l.last[key] = now
	l.mu.Unlock()
	c.Next()
}

func (l *rateLimiter) cleanupExpiredLocked(now time.Time) {
	for key, ts := range l.last {
		if now.Sub(ts) >= l.window {
			delete(l.last, key)
		}
	}
	l.lastSweep = now
}
