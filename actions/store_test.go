package actions

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStoreInsertAndGet(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	rec := queuedRecord(t, store, "performance")

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.RuleCode != "low-overall" || got.State != StateQueued {
		t.Errorf("Get() = (%s, %s), want (low-overall, queued)", got.RuleCode, got.State)
	}

	if err := store.Insert(ctx, rec); err == nil {
		t.Error("Insert() of a duplicate id should fail")
	}
	if _, err := store.Get(ctx, "missing"); err == nil {
		t.Error("Get() of an unknown id should fail")
	}
}

func TestInMemoryStoreInsertBatchAllOrNothing(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	existing := queuedRecord(t, store, "performance")

	fresh := newExecution(matchFor("r2", "second-rule", nil), dispatchEvent(), time.Now())
	fresh.State = StateQueued
	dup := *existing

	// The fresh record comes first so a non-atomic batch would keep it.
	if err := store.InsertBatch(ctx, []*Execution{fresh, &dup}); err == nil {
		t.Fatal("InsertBatch() with a duplicate id should fail")
	}
	if _, err := store.Get(ctx, fresh.ID); err == nil {
		t.Error("a failed batch should persist nothing")
	}

	if err := store.InsertBatch(ctx, []*Execution{fresh}); err != nil {
		t.Fatalf("InsertBatch() failed: %v", err)
	}
	if _, err := store.Get(ctx, fresh.ID); err != nil {
		t.Errorf("Get() after batch insert failed: %v", err)
	}
}

func TestTransitionCompareAndSwap(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	rec := queuedRecord(t, store, "performance")

	moved, err := store.Transition(ctx, rec.ID, StateQueued, StateChange{To: StateRetrying})
	if err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}
	if !moved {
		t.Fatal("first claim should win")
	}

	// Second claim loses quietly.
	moved, err = store.Transition(ctx, rec.ID, StateQueued, StateChange{To: StateRetrying})
	if err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}
	if moved {
		t.Error("second claim should lose without error")
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	store := NewInMemoryStore()
	rec := queuedRecord(t, store, "performance")

	if _, err := store.Transition(context.Background(), rec.ID, StateQueued, StateChange{To: StateSuccess}); err == nil {
		t.Error("queued cannot jump straight to success")
	}
}

func TestTransitionClearsErrorOnRetry(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	rec := queuedRecord(t, store, "performance")

	executedAt := time.Now()
	mustTransition(t, store, rec.ID, StateQueued, StateChange{To: StateRetrying})
	mustTransition(t, store, rec.ID, StateRetrying, StateChange{
		To:           StateFailed,
		ErrorMessage: "target unavailable",
		ExecutedAt:   &executedAt,
	})

	got, _ := store.Get(ctx, rec.ID)
	if got.ErrorMessage != "target unavailable" {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}

	mustTransition(t, store, rec.ID, StateFailed, StateChange{To: StateQueued})
	got, _ = store.Get(ctx, rec.ID)
	if got.ErrorMessage != "" {
		t.Errorf("re-queueing should clear the error message, got %q", got.ErrorMessage)
	}
}

func mustTransition(t *testing.T, store Store, id string, from State, change StateChange) {
	t.Helper()
	moved, err := store.Transition(context.Background(), id, from, change)
	if err != nil {
		t.Fatalf("Transition(%s -> %s) failed: %v", from, change.To, err)
	}
	if !moved {
		t.Fatalf("Transition(%s -> %s) did not move", from, change.To)
	}
}

func TestHasEvent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	rec := queuedRecord(t, store, "performance")

	seen, err := store.HasEvent(ctx, rec.CompanyID, rec.TriggerEventRef)
	if err != nil {
		t.Fatalf("HasEvent() failed: %v", err)
	}
	if !seen {
		t.Error("HasEvent() should find the inserted record's event ref")
	}

	seen, err = store.HasEvent(ctx, "other-co", rec.TriggerEventRef)
	if err != nil {
		t.Fatalf("HasEvent() failed: %v", err)
	}
	if seen {
		t.Error("HasEvent() should not match across tenants")
	}
}

func TestListFilterAndOrder(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	statsRecord(t, store, "performance", StateQueued, now.Add(time.Hour))
	statsRecord(t, store, "development", StateFailed, now)
	statsRecord(t, store, "performance", StateFailed, now.Add(2*time.Hour))

	all, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Errorf("List() not ordered by created_at: %v after %v", all[i].CreatedAt, all[i-1].CreatedAt)
		}
	}

	failed, err := store.List(ctx, Filter{State: StateFailed})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(failed) != 2 {
		t.Errorf("state filter returned %d records, want 2", len(failed))
	}

	window, err := store.List(ctx, Filter{From: now.Add(30 * time.Minute), To: now.Add(90 * time.Minute)})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(window) != 1 {
		t.Errorf("time window returned %d records, want 1", len(window))
	}
}

func TestFilterKeyDistinguishesFilters(t *testing.T) {
	a := Filter{CompanyID: "acme", State: StateFailed}
	b := Filter{CompanyID: "acme", TargetModule: string(StateFailed)}

	if a.Key() == b.Key() {
		t.Errorf("distinct filters share key %q", a.Key())
	}
	if a.Key() != (Filter{CompanyID: "acme", State: StateFailed}).Key() {
		t.Error("equal filters should share a key")
	}
}
