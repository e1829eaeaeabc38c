// Package ratelimit provides a per-key token bucket limiter over a keyed
// store, plus gin middleware that gates inbound traffic per session and
// endpoint. The limiter fails open: if the backing store is unreachable the
// request is allowed and the degradation is logged, because infrastructure
// flakiness must not become a denial of service against legitimate callers.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinelpay/triage/internal/keystore"
	"github.com/sentinelpay/triage/internal/metrics"
	"github.com/sentinelpay/triage/internal/syncutil"
)

// Config configures a token bucket.
type Config struct {
	Capacity   int           // burst size; bucket starts full
	RefillRate float64       // tokens per second
	Window     time.Duration // TTL for idle bucket state
}

// DefaultConfig is the standard per-session policy: 5 requests/second with
// bursts of 5.
func DefaultConfig() Config {
	return Config{Capacity: 5, RefillRate: 5, Window: time.Minute}
}

// Decision is the outcome of a CheckAndConsume call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

// bucketState is the persisted per-key bucket snapshot.
type bucketState struct {
	Tokens     int       `json:"tokens"`
	LastRefill time.Time `json:"lastRefill"`
}

// Limiter is a keyed token bucket limiter.
type Limiter struct {
	store  keystore.Store
	cfg    Config
	locks  syncutil.ShardedMutex
	logger *slog.Logger
}

// New creates a limiter over the given keyed store.
func New(store keystore.Store, cfg Config, logger *slog.Logger) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = DefaultConfig().RefillRate
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Limiter{store: store, cfg: cfg, logger: logger}
}

// CheckAndConsume refills the bucket for key lazily, then consumes one token
// if available. Missing state defaults to a full bucket.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string) Decision {
	unlock := l.locks.Lock(key)
	defer unlock()

	now := time.Now()
	st := l.load(ctx, key, now)

	// Lazy refill: whole tokens only. lastRefill advances only when tokens
	// are actually added, so fractional progress is never discarded.
	refill := int(math.Floor(now.Sub(st.LastRefill).Seconds() * l.cfg.RefillRate))
	if refill > 0 {
		st.Tokens += refill
		if st.Tokens > l.cfg.Capacity {
			st.Tokens = l.cfg.Capacity
		}
		st.LastRefill = now
	}

	if st.Tokens < 1 {
		retryAfter := time.Duration(math.Ceil(1000/l.cfg.RefillRate)) * time.Millisecond
		l.save(ctx, key, st)
		return Decision{
			Allowed:    false,
			Limit:      l.cfg.Capacity,
			Remaining:  0,
			ResetAt:    now.Add(l.timeToFull(0)),
			RetryAfter: retryAfter,
		}
	}

	st.Tokens--
	l.save(ctx, key, st)

	return Decision{
		Allowed:   true,
		Limit:     l.cfg.Capacity,
		Remaining: st.Tokens,
		ResetAt:   now.Add(l.timeToFull(st.Tokens)),
	}
}

// timeToFull returns how long until the bucket refills to capacity.
func (l *Limiter) timeToFull(tokens int) time.Duration {
	missing := float64(l.cfg.Capacity - tokens)
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / l.cfg.RefillRate * float64(time.Second))
}

func (l *Limiter) load(ctx context.Context, key string, now time.Time) *bucketState {
	raw, err := l.store.Get(ctx, "rl:"+key)
	if errors.Is(err, keystore.ErrNotFound) {
		return &bucketState{Tokens: l.cfg.Capacity, LastRefill: now}
	}
	if err != nil {
		// Fail open: pretend the bucket is full.
		l.logger.Warn("rate limit store unreachable, failing open", "key", key, "error", err)
		return &bucketState{Tokens: l.cfg.Capacity, LastRefill: now}
	}

	var st bucketState
	if err := json.Unmarshal(raw, &st); err != nil {
		l.logger.Warn("corrupt bucket state, resetting", "key", key, "error", err)
		return &bucketState{Tokens: l.cfg.Capacity, LastRefill: now}
	}
	return &st
}

func (l *Limiter) save(ctx context.Context, key string, st *bucketState) {
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := l.store.Set(ctx, "rl:"+key, raw, l.cfg.Window); err != nil {
		l.logger.Warn("failed to persist bucket state", "key", key, "error", err)
	}
}

// Middleware returns a gin middleware that rate limits per (session, endpoint).
// The session key is taken from the id path param when present, falling back
// to the client IP for session-creating requests.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("id")
		if session == "" {
			session = c.ClientIP()
		}
		endpoint := c.FullPath()
		key := fmt.Sprintf("%s:%s", session, endpoint)

		d := l.CheckAndConsume(c.Request.Context(), key)

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			metrics.RateLimitBlocksTotal.WithLabelValues(endpoint).Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":        "rate_limit_exceeded",
				"message":      "Too many requests. Please slow down.",
				"limit":        d.Limit,
				"remaining":    0,
				"reset":        d.ResetAt.Unix(),
				"retryAfterMs": d.RetryAfter.Milliseconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
