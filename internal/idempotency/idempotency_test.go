package idempotency

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinelpay/triage/internal/keystore"
)

func newTestCoordinator() *Coordinator {
	return New(keystore.NewMemoryStore(), slog.Default())
}

func TestExecute_FirstExecutionIsNew(t *testing.T) {
	c := newTestCoordinator()

	out, err := c.Execute(context.Background(), "key1", func(context.Context) (int, any, error) {
		return http.StatusOK, gin.H{"actionId": "act_1"}, nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.IsNew {
		t.Error("first execution should be new")
	}
	if out.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", out.StatusCode)
	}
}

func TestExecute_ReplayReturnsIdenticalResult(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()
	calls := 0

	op := func(context.Context) (int, any, error) {
		calls++
		return http.StatusOK, gin.H{"actionId": "act_1", "call": calls}, nil
	}

	first, err := c.Execute(ctx, "key1", op)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := c.Execute(ctx, "key1", op)
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	if calls != 1 {
		t.Errorf("operation invoked %d times, want exactly 1", calls)
	}
	if second.IsNew {
		t.Error("replay should not be new")
	}
	if second.StatusCode != first.StatusCode || !bytes.Equal(second.Body, first.Body) {
		t.Errorf("replay {%d, %s} differs from original {%d, %s}",
			second.StatusCode, second.Body, first.StatusCode, first.Body)
	}
}

func TestExecute_DifferentKeysExecuteIndependently(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()
	calls := 0

	op := func(context.Context) (int, any, error) {
		calls++
		return http.StatusOK, gin.H{"n": calls}, nil
	}

	_, _ = c.Execute(ctx, "a", op)
	_, _ = c.Execute(ctx, "b", op)

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestExecute_FailedOperationNotRecorded(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()
	calls := 0

	failing := func(context.Context) (int, any, error) {
		calls++
		return 0, nil, errors.New("downstream unavailable")
	}

	if _, err := c.Execute(ctx, "k", failing); err == nil {
		t.Fatal("expected error")
	}

	// A retry after failure executes again.
	out, err := c.Execute(ctx, "k", func(context.Context) (int, any, error) {
		calls++
		return http.StatusOK, gin.H{}, nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !out.IsNew || calls != 2 {
		t.Errorf("retry after failure should execute fresh (new=%v, calls=%d)", out.IsNew, calls)
	}
}

func TestExecute_ConcurrentSameKeyRunsOnce(t *testing.T) {
	c := newTestCoordinator()
	var calls int32
	var mu sync.Mutex
	increment := func(context.Context) (int, any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return http.StatusOK, gin.H{"ok": true}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Execute(context.Background(), "shared", increment)
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("side effect executed %d times under concurrent replays, want 1", calls)
	}
}

func TestExecute_FailsOpenOnStoreError(t *testing.T) {
	c := New(downStore{}, slog.Default())
	calls := 0

	out, err := c.Execute(context.Background(), "k", func(context.Context) (int, any, error) {
		calls++
		return http.StatusOK, gin.H{}, nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 1 || !out.IsNew {
		t.Error("operation must execute when the store is down")
	}
}

func TestMiddleware_RequiresKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/actions/freeze-card", Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"key": KeyFromContext(c)})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/actions/freeze-card", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing key: %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/actions/freeze-card", nil)
	req.Header.Set(HeaderKey, "idem_123")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("with key: %d, want 200", w.Code)
	}
}

func TestRespond_MarksReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Respond(c, &Outcome{IsNew: false, StatusCode: http.StatusOK, Body: []byte(`{"ok":true}`)})

	if w.Header().Get(HeaderReplayed) != "true" {
		t.Error("replayed outcome must set the replay header")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want original 200", w.Code)
	}
}

// downStore simulates an unreachable backing store.
type downStore struct{}

func (downStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("store down")
}
func (downStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}
func (downStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errors.New("store down")
}
func (downStore) CompareAndSwap(context.Context, string, []byte, []byte, time.Duration) error {
	return errors.New("store down")
}
func (downStore) Delete(context.Context, string) error { return errors.New("store down") }
