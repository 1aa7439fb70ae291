package actions

import (
	"context"
	"fmt"
	"sync"

	"github.com/daryls-hrplus/intellihrm-sub073/internal/logger"
	"github.com/daryls-hrplus/intellihrm-sub073/rules"
)

// Orchestrator is the inbound face of the engine: source modules submit
// trigger events, the orchestrator evaluates the tenant's rules and appends
// execution records, and queued work flows to the executor asynchronously.
//
// Only validation errors propagate to the submitter. Downstream action
// failures are recorded on the log so the triggering module is never blocked
// by them.
type Orchestrator struct {
	rules      rules.Store
	guards     *rules.GuardSet
	log        Store
	dispatcher *Dispatcher
	executor   *Executor

	locks subjectLocks
}

// NewOrchestrator wires the evaluate-dispatch-execute pipeline.
func NewOrchestrator(ruleStore rules.Store, guards *rules.GuardSet, log Store, dispatcher *Dispatcher, executor *Executor) *Orchestrator {
	return &Orchestrator{
		rules:      ruleStore,
		guards:     guards,
		log:        log,
		dispatcher: dispatcher,
		executor:   executor,
	}
}

// SubmitTriggerEvent evaluates one event against the tenant's active rules
// and dispatches the matches. Ingestion is idempotent: resubmitting an event
// with the same (subject, type, occurred_at) after a successful dispatch is
// a no-op returning no records.
//
// Evaluate+dispatch is serialized per subject so duplicate suppression and
// idempotency checks are race-free; events for different subjects proceed in
// parallel.
func (o *Orchestrator) SubmitTriggerEvent(ctx context.Context, event rules.TriggerEvent) ([]*Execution, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	unlock := o.locks.lock(event.CompanyID + "|" + event.SubjectID)
	defer unlock()

	seen, err := o.log.HasEvent(ctx, event.CompanyID, event.Ref())
	if err != nil {
		return nil, fmt.Errorf("check event idempotency: %w", err)
	}
	if seen {
		logger.Debug("duplicate trigger event ignored", "event_ref", event.Ref())
		return nil, nil
	}

	// Rules are read fresh per event; there is no mutable cached copy to
	// go stale between authoring and evaluation.
	activeRules, err := o.rules.ActiveRules(ctx, event.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}

	matches := rules.Evaluate(event, activeRules, o.guards)
	if len(matches) == 0 {
		return nil, nil
	}

	records, err := o.dispatcher.Dispatch(ctx, event, matches)
	if err != nil {
		return records, err
	}

	for _, rec := range records {
		if rec.State != StateQueued {
			continue
		}
		// Enqueue failures are recorded on the log, not surfaced to
		// the submitter.
		if err := o.executor.Enqueue(ctx, rec.ID); err != nil {
			logger.Error("enqueue execution", "execution_id", rec.ID, "error", err)
		}
	}

	logger.Info("trigger event dispatched",
		"event_type", event.EventType,
		"subject_id", event.SubjectID,
		"company_id", event.CompanyID,
		"matches", len(matches))
	return records, nil
}

// subjectLocks hands out one mutex per subject key so evaluate+dispatch for
// a subject is serialized while unrelated subjects run concurrently.
type subjectLocks struct {
	mu    sync.Mutex
	locks map[string]*subjectLock
}

type subjectLock struct {
	mu   sync.Mutex
	refs int
}

func (s *subjectLocks) lock(key string) func() {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*subjectLock)
	}
	l, ok := s.locks[key]
	if !ok {
		l = &subjectLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
