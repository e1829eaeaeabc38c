package triage

import (
	"testing"
	"time"
)

func TestSessionStoreGetPut(t *testing.T) {
	store := NewSessionStore()
	store.Put(&Session{ID: "sess_1", Status: StatusRunning, CreatedAt: time.Now()})

	sess, err := store.Get("sess_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID != "sess_1" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	if _, err := store.Get("sess_missing"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStoreSnapshotIsolation(t *testing.T) {
	store := NewSessionStore()
	store.Put(&Session{ID: "sess_1", Status: StatusRunning})

	snap, _ := store.Get("sess_1")
	snap.Status = StatusFailed
	snap.Steps = append(snap.Steps, StepResult{ID: StepProfile})

	again, _ := store.Get("sess_1")
	if again.Status != StatusRunning || len(again.Steps) != 0 {
		t.Fatal("snapshot mutation leaked into the store")
	}
}

func TestSessionStoreUpdate(t *testing.T) {
	store := NewSessionStore()
	store.Put(&Session{ID: "sess_1", Status: StatusRunning})

	snap, err := store.Update("sess_1", func(s *Session) {
		s.Status = StatusCompleted
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != StatusCompleted {
		t.Fatal("update not applied to snapshot")
	}
	if snap.UpdatedAt.IsZero() {
		t.Fatal("update must bump UpdatedAt")
	}
}

func TestSweepEvictsOnlyExpiredTerminalSessions(t *testing.T) {
	store := NewSessionStore()
	old := time.Now().Add(-10 * time.Minute)

	store.Put(&Session{ID: "sess_done_old", Status: StatusCompleted, UpdatedAt: old})
	store.Put(&Session{ID: "sess_failed_old", Status: StatusFailed, UpdatedAt: old})
	store.Put(&Session{ID: "sess_done_new", Status: StatusCompleted, UpdatedAt: time.Now()})
	store.Put(&Session{ID: "sess_running_old", Status: StatusRunning, UpdatedAt: old})

	removed := store.Sweep(5 * time.Minute)
	if removed != 2 {
		t.Fatalf("expected 2 evictions, got %d", removed)
	}
	if _, err := store.Get("sess_done_new"); err != nil {
		t.Fatal("fresh terminal session must survive sweep")
	}
	if _, err := store.Get("sess_running_old"); err != nil {
		t.Fatal("running session must survive sweep regardless of age")
	}
	if _, err := store.Get("sess_done_old"); err != ErrSessionNotFound {
		t.Fatal("expired terminal session must be evicted")
	}
}
