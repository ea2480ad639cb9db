package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"dcard-ledger/internal/api/response"
)

const pruneEvery = 1024

type slidingWindow struct {
	mu         sync.Mutex
	timestamps []int64
}

// RateLimiter builds sliding-window limits. Every handler it returns owns
// its counters, so routers never share state through package globals.
type RateLimiter struct {
	now func() time.Time
}

type windowStore struct {
	windows  sync.Map
	requests atomic.Uint64
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{now: time.Now}
}

// ByClientIP limits each client IP to limit requests per window in scope.
func (l *RateLimiter) ByClientIP(scope string, limit int, window time.Duration) gin.HandlerFunc {
	return l.handler(limit, window, func(c *gin.Context) string {
		return scope + ":ip:" + c.ClientIP()
	})
}

// ByClientAndJSONField limits each client IP per value of a top-level JSON
// body field, such as a voucher code. One client exhausting its quota for a
// code leaves other clients' quota for that code untouched. Requests without
// the field count against the client IP alone.
func (l *RateLimiter) ByClientAndJSONField(scope, field string, limit int, window time.Duration) gin.HandlerFunc {
	return l.handler(limit, window, func(c *gin.Context) string {
		ipKey := scope + ":ip:" + c.ClientIP()
		value := jsonField(c, field)
		if value == "" {
			return ipKey
		}
		return ipKey + ":" + field + ":" + value
	})
}

func (l *RateLimiter) handler(limit int, window time.Duration, key func(*gin.Context) string) gin.HandlerFunc {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}

	store := &windowStore{}

	return func(c *gin.Context) {
		now := l.now().UnixNano()
		if store.requests.Add(1)%pruneEvery == 0 {
			store.prune(now, window)
		}

		entryAny, _ := store.windows.LoadOrStore(key(c), &slidingWindow{})
		entry := entryAny.(*slidingWindow)

		entry.mu.Lock()
		entry.evict(now - window.Nanoseconds())
		if len(entry.timestamps) >= limit {
			retryAfter := time.Duration(entry.timestamps[0] + window.Nanoseconds() - now)
			entry.mu.Unlock()

			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			response.Abort(c, http.StatusTooManyRequests, "too many requests")
			return
		}
		entry.timestamps = append(entry.timestamps, now)
		entry.mu.Unlock()

		c.Next()
	}
}

func (w *slidingWindow) evict(cutoff int64) {
	next := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts > cutoff {
			next = append(next, ts)
		}
	}
	w.timestamps = next
}

func (s *windowStore) prune(now int64, window time.Duration) {
	cutoff := now - window.Nanoseconds()
	s.windows.Range(func(key, value any) bool {
		entry := value.(*slidingWindow)
		entry.mu.Lock()
		entry.evict(cutoff)
		empty := len(entry.timestamps) == 0
		entry.mu.Unlock()
		if empty {
			s.windows.Delete(key)
		}
		return true
	})
}

func jsonField(c *gin.Context, field string) string {
	if c.Request == nil || c.Request.Body == nil {
		return ""
	}

	raw, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	value, ok := payload[field].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
