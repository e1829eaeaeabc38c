// Package idempotency coordinates at-most-once execution of side-effecting
// requests keyed by a caller-supplied idempotency key. First execution is
// recorded with a 24h TTL; replays within the TTL return the stored outcome
// verbatim without re-executing side effects. If the backing store is
// unavailable the operation executes anyway: idempotency is best-effort and
// never a hard blocker to availability.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinelpay/triage/internal/keystore"
	"github.com/sentinelpay/triage/internal/syncutil"
)

// RecordTTL is how long an idempotency record is honored.
const RecordTTL = 24 * time.Hour

// HeaderKey is the request header carrying the idempotency key.
const HeaderKey = "Idempotency-Key"

// HeaderReplayed marks responses served from an idempotency record.
const HeaderReplayed = "Idempotency-Replayed"

// Outcome is the result of a coordinated execution.
type Outcome struct {
	IsNew      bool            `json:"-"`
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body"`
}

// Operation produces the side effect exactly once per key. It returns the
// HTTP status and response body to be cached for replays.
type Operation func(ctx context.Context) (int, any, error)

// Coordinator dedupes side-effecting requests by key.
type Coordinator struct {
	store  keystore.Store
	locks  syncutil.ShardedMutex
	logger *slog.Logger
}

// New creates a coordinator over the given keyed store.
func New(store keystore.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: store, logger: logger}
}

// Execute runs op at most once for key within the TTL window. The per-key
// lock makes the check-then-execute-then-store sequence atomic with respect
// to concurrent requests bearing the same key.
func (c *Coordinator) Execute(ctx context.Context, key string, op Operation) (*Outcome, error) {
	unlock := c.locks.Lock(key)
	defer unlock()

	storeKey := "idem:" + key

	raw, err := c.store.Get(ctx, storeKey)
	if err == nil {
		var cached Outcome
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			cached.IsNew = false
			return &cached, nil
		}
		c.logger.Warn("corrupt idempotency record, re-executing", "key", key)
	} else if !errors.Is(err, keystore.ErrNotFound) {
		c.logger.Warn("idempotency store unreachable, executing without dedupe", "key", key, "error", err)
	}

	status, body, err := op(ctx)
	if err != nil {
		// Failed executions are not recorded; the caller may retry.
		return nil, err
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{IsNew: true, StatusCode: status, Body: bodyJSON}

	recordJSON, err := json.Marshal(outcome)
	if err == nil {
		if setErr := c.store.Set(ctx, storeKey, recordJSON, RecordTTL); setErr != nil {
			c.logger.Warn("failed to persist idempotency record", "key", key, "error", setErr)
		}
	}

	return outcome, nil
}

// Middleware requires an Idempotency-Key header and exposes it to handlers.
// Side-effecting routes mount this; handlers then call Execute with the key
// from the context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderKey)
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "missing_idempotency_key",
				"message": "Idempotency-Key header is required for side-effecting requests",
			})
			c.Abort()
			return
		}
		c.Set(ContextKey, key)
		c.Next()
	}
}

// ContextKey is where Middleware stores the idempotency key on the gin context.
const ContextKey = "idempotency_key"

// KeyFromContext returns the idempotency key set by Middleware.
func KeyFromContext(c *gin.Context) string {
	return c.GetString(ContextKey)
}

// Respond writes an Outcome, marking replays with the replay header so
// callers can distinguish a cached result from a fresh execution. Replays
// are not errors: the original status (2xx) is returned unchanged.
func Respond(c *gin.Context, out *Outcome) {
	if !out.IsNew {
		c.Header(HeaderReplayed, "true")
	}
	c.Data(out.StatusCode, "application/json", out.Body)
}
