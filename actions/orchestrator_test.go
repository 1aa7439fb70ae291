package actions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/daryls-hrplus/intellihrm-sub073/rules"
)

type pipeline struct {
	rules  *rules.InMemoryStore
	log    *InMemoryStore
	target *stubTarget
	orch   *Orchestrator
	stop   func()
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	ruleStore := rules.NewInMemoryStore()
	log := NewInMemoryStore()
	target := &stubTarget{}

	registry := NewRegistry()
	if err := registry.Register("performance", target); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := registry.Register("notifications", target); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	exec := NewExecutor(log, registry, ExecutorConfig{Workers: 2, QueueSize: 16, Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	if err := exec.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	p := &pipeline{
		rules:  ruleStore,
		log:    log,
		target: target,
		orch:   NewOrchestrator(ruleStore, nil, log, NewDispatcher(log), exec),
		stop: func() {
			exec.Stop(time.Second)
			cancel()
		},
	}
	t.Cleanup(p.stop)
	return p
}

func (p *pipeline) addRule(t *testing.T, id, code string, mutate func(*rules.Rule)) {
	t.Helper()
	match := matchFor(id, code, mutate)
	if err := p.rules.Upsert(context.Background(), match.Rule); err != nil {
		t.Fatalf("Upsert(%s) failed: %v", code, err)
	}
}

func TestSubmitTriggerEventThroughApprovalToSuccess(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.addRule(t, "r1", "low-overall-pip", func(r *rules.Rule) { r.RequiresApproval = true })

	event := dispatchEvent() // overall 55, below the threshold of 60
	records, err := p.orch.SubmitTriggerEvent(ctx, event)
	if err != nil {
		t.Fatalf("SubmitTriggerEvent() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.State != StatePendingApproval {
		t.Fatalf("state = %s, want %s", rec.State, StatePendingApproval)
	}
	if p.target.callCount() != 0 {
		t.Fatalf("target called before approval")
	}

	gateway := NewGateway(p.log, p.orch.executor)
	count, err := gateway.BulkApprove(ctx, []string{rec.ID}, "manager-9")
	if err != nil {
		t.Fatalf("BulkApprove() failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("approved count = %d, want 1", count)
	}

	waitForState(t, p.log, rec.ID, StateSuccess)

	got, _ := p.log.Get(ctx, rec.ID)
	if got.TargetRecordID == "" {
		t.Error("successful record should carry the target's record id")
	}
	if got.ExecutedAt == nil {
		t.Error("successful record should carry executed_at")
	}
}

func TestSubmitTriggerEventNoMatchWritesNothing(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.addRule(t, "r1", "low-overall-pip", nil)

	event := dispatchEvent()
	event.SectionScores[rules.SectionOverall] = 60 // exactly at the threshold

	records, err := p.orch.SubmitTriggerEvent(ctx, event)
	if err != nil {
		t.Fatalf("SubmitTriggerEvent() failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records, want 0", len(records))
	}

	all, _ := p.log.List(ctx, Filter{})
	if len(all) != 0 {
		t.Errorf("log holds %d records after a non-matching event, want 0", len(all))
	}
}

func TestSubmitTriggerEventIsIdempotent(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.addRule(t, "r1", "notify", func(r *rules.Rule) {
		r.ActionType = rules.ActionNotifyHR
		r.TargetModule = "notifications"
	})

	event := dispatchEvent()
	first, err := p.orch.SubmitTriggerEvent(ctx, event)
	if err != nil {
		t.Fatalf("SubmitTriggerEvent() failed: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first submission produced %d records, want 1", len(first))
	}
	waitForState(t, p.log, first[0].ID, StateSuccess)

	second, err := p.orch.SubmitTriggerEvent(ctx, event)
	if err != nil {
		t.Fatalf("duplicate SubmitTriggerEvent() failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("duplicate submission produced %d records, want 0", len(second))
	}

	all, _ := p.log.List(ctx, Filter{})
	if len(all) != 1 {
		t.Errorf("log holds %d records after a duplicate, want 1", len(all))
	}
	if p.target.callCount() != 1 {
		t.Errorf("target called %d times after a duplicate, want 1", p.target.callCount())
	}
}

func TestSubmitTriggerEventRejectsInvalid(t *testing.T) {
	p := newPipeline(t)

	event := dispatchEvent()
	event.SubjectID = ""

	_, err := p.orch.SubmitTriggerEvent(context.Background(), event)
	if err == nil {
		t.Fatal("SubmitTriggerEvent() should reject an invalid event")
	}
	if !rules.IsValidation(err) {
		t.Errorf("error should be a validation error, got %T", err)
	}
}

func TestSubmitTriggerEventConcurrentDuplicates(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.addRule(t, "r1", "notify", func(r *rules.Rule) {
		r.ActionType = rules.ActionNotifyHR
		r.TargetModule = "notifications"
	})

	event := dispatchEvent()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.orch.SubmitTriggerEvent(ctx, event); err != nil {
				t.Errorf("SubmitTriggerEvent() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	all, _ := p.log.List(ctx, Filter{})
	if len(all) != 1 {
		t.Errorf("%d concurrent submissions of one event wrote %d records, want 1", 8, len(all))
	}
}

func TestSubmitTriggerEventMandatoryAlongsideWinner(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.addRule(t, "r1", "optional-high", func(r *rules.Rule) { r.Priority = rules.PriorityCritical })
	p.addRule(t, "r2", "mandatory-low", func(r *rules.Rule) {
		r.Priority = rules.PriorityLow
		r.Mandatory = true
	})

	records, err := p.orch.SubmitTriggerEvent(ctx, dispatchEvent())
	if err != nil {
		t.Fatalf("SubmitTriggerEvent() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.SuppressedBy != "" {
			t.Errorf("record %s suppressed by %q; the mandatory action must run", rec.RuleCode, rec.SuppressedBy)
		}
		waitForState(t, p.log, rec.ID, StateSuccess)
	}
	if p.target.callCount() != 2 {
		t.Errorf("target called %d times, want 2", p.target.callCount())
	}
}

// flakyStore fails a number of batch inserts before recovering.
type flakyStore struct {
	*InMemoryStore
	failures int
}

func (s *flakyStore) InsertBatch(ctx context.Context, recs []*Execution) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("storage unavailable")
	}
	return s.InMemoryStore.InsertBatch(ctx, recs)
}

func TestSubmitTriggerEventReplayAfterDispatchFailure(t *testing.T) {
	ruleStore := rules.NewInMemoryStore()
	log := &flakyStore{InMemoryStore: NewInMemoryStore(), failures: 1}
	target := &stubTarget{}

	registry := NewRegistry()
	if err := registry.Register("performance", target); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := registry.Register("notifications", target); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	exec := NewExecutor(log, registry, ExecutorConfig{Workers: 2, QueueSize: 16, Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	if err := exec.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		exec.Stop(time.Second)
		cancel()
	})
	orch := NewOrchestrator(ruleStore, nil, log, NewDispatcher(log), exec)

	pip := matchFor("r1", "low-overall-pip", nil)
	notify := matchFor("r2", "low-overall-notify", func(r *rules.Rule) {
		r.ActionType = rules.ActionNotifyHR
		r.TargetModule = "notifications"
	})
	if err := ruleStore.Upsert(ctx, pip.Rule); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := ruleStore.Upsert(ctx, notify.Rule); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	event := dispatchEvent()
	if _, err := orch.SubmitTriggerEvent(ctx, event); err == nil {
		t.Fatal("SubmitTriggerEvent() should surface the storage failure")
	}

	// Nothing was written, so the event is not marked as seen.
	all, err := log.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("a failed dispatch persisted %d records, want 0", len(all))
	}

	// The submitter replays the event; both matched rules get their record.
	records, err := orch.SubmitTriggerEvent(ctx, event)
	if err != nil {
		t.Fatalf("replayed SubmitTriggerEvent() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("replay produced %d records, want 2", len(records))
	}
	for _, rec := range records {
		waitForState(t, log, rec.ID, StateSuccess)
	}
}
