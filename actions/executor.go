package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daryls-hrplus/intellihrm-sub073/internal/logger"
	"github.com/daryls-hrplus/intellihrm-sub073/worker"
)

// timeoutMessage is the canonical error message for a target call that ran
// out of time. A timeout is treated identically to a reported failure.
const timeoutMessage = "timeout"

// ErrNotRetryable is returned by Retry when the record is not in failed.
var ErrNotRetryable = errors.New("execution is not in a retryable state")

// Executor invokes target modules for queued execution records. Calls run on
// a bounded worker pool so a slow target cannot starve unrelated work; each
// call carries a timeout and a stable idempotency key (the record ID) so a
// retried call cannot double-apply.
//
// The executor is the only component that calls across the module boundary.
type Executor struct {
	log     Store
	targets *Registry
	timeout time.Duration
	pool    *worker.Pool[string]
	now     func() time.Time
}

// ExecutorConfig sizes the executor.
type ExecutorConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration

	// Prometheus, when set, registers worker pool metrics.
	Prometheus prometheus.Registerer
}

// NewExecutor creates an executor over the log and target registry.
func NewExecutor(log Store, targets *Registry, cfg ExecutorConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	e := &Executor{
		log:     log,
		targets: targets,
		timeout: cfg.Timeout,
		now:     time.Now,
	}
	var opts []worker.Option[string]
	if cfg.Prometheus != nil {
		opts = append(opts, worker.WithPrometheus[string](cfg.Prometheus, "action_executor"))
	}
	e.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, e.Execute, opts...)
	return e
}

// Start launches the worker pool.
func (e *Executor) Start(ctx context.Context) error {
	return e.pool.Start(ctx)
}

// Stop drains and stops the worker pool.
func (e *Executor) Stop(timeout time.Duration) error {
	return e.pool.Stop(timeout)
}

// PoolStats exposes worker pool counters for the health endpoint.
func (e *Executor) PoolStats() worker.Stats {
	return e.pool.Stats()
}

// Enqueue hands a queued record to the pool. If the queue refuses the work
// the record is marked failed so nothing is silently lost; operators recover
// it with Retry.
func (e *Executor) Enqueue(ctx context.Context, id string) error {
	err := e.pool.Submit(id)
	if err == nil {
		return nil
	}
	if errors.Is(err, worker.ErrQueueFull) {
		if _, terr := e.log.Transition(ctx, id, StateQueued, StateChange{
			To:           StateFailed,
			ErrorMessage: "executor queue full",
		}); terr != nil {
			return fmt.Errorf("record queue overflow for %s: %w", id, terr)
		}
		logger.Warn("executor queue full, execution marked failed", "execution_id", id)
		return nil
	}
	return err
}

// Execute runs one queued record to a terminal state. It claims the record
// with a compare-and-swap into retrying; a caller that lost the claim race
// returns without error. Target failures are recorded on the log, never
// returned to the event submitter.
func (e *Executor) Execute(ctx context.Context, id string) error {
	claimed, err := e.log.Transition(ctx, id, StateQueued, StateChange{To: StateRetrying})
	if err != nil {
		return fmt.Errorf("claim execution %s: %w", id, err)
	}
	if !claimed {
		return nil
	}

	rec, err := e.log.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load claimed execution %s: %w", id, err)
	}

	target, ok := e.targets.Lookup(rec.TargetModule)
	if !ok {
		return e.fail(ctx, rec, fmt.Sprintf("no target registered for module %s", rec.TargetModule))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, callErr := target.ApplyAction(callCtx, ApplyRequest{
		ActionType:     rec.ActionType,
		TargetModule:   rec.TargetModule,
		SubjectID:      rec.SubjectID,
		CompanyID:      rec.CompanyID,
		Config:         rec.ActionConfig,
		IdempotencyKey: rec.ID,
	})
	if callErr != nil {
		msg := callErr.Error()
		if errors.Is(callErr, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			msg = timeoutMessage
		}
		return e.fail(ctx, rec, msg)
	}

	executedAt := e.now()
	if _, err := e.log.Transition(ctx, rec.ID, StateRetrying, StateChange{
		To:             StateSuccess,
		TargetRecordID: result.RecordID,
		ExecutedAt:     &executedAt,
	}); err != nil {
		return fmt.Errorf("record success for %s: %w", rec.ID, err)
	}
	logger.Info("action executed",
		"execution_id", rec.ID,
		"action_type", rec.ActionType,
		"target_module", rec.TargetModule,
		"target_record_id", result.RecordID)
	return nil
}

func (e *Executor) fail(ctx context.Context, rec *Execution, msg string) error {
	executedAt := e.now()
	if _, err := e.log.Transition(ctx, rec.ID, StateRetrying, StateChange{
		To:           StateFailed,
		ErrorMessage: msg,
		ExecutedAt:   &executedAt,
	}); err != nil {
		return fmt.Errorf("record failure for %s: %w", rec.ID, err)
	}
	logger.Error("action execution failed",
		"execution_id", rec.ID,
		"action_type", rec.ActionType,
		"target_module", rec.TargetModule,
		"error", msg)
	return nil
}

// Retry is the explicit operator operation re-running a failed record. It
// re-enters queued and re-invokes with the same idempotency key, so the
// target sees the identical key on every attempt.
func (e *Executor) Retry(ctx context.Context, id string) error {
	moved, err := e.log.Transition(ctx, id, StateFailed, StateChange{To: StateQueued})
	if err != nil {
		return err
	}
	if !moved {
		return ErrNotRetryable
	}
	return e.Enqueue(ctx, id)
}

// Recover re-enqueues work stranded by a restart: queued records whose pool
// slot died with the process, and approved records where the crash landed
// between the approval and the hand-off to the queue. Safe to call on every
// startup; a record that moved on concurrently loses its compare-and-swap
// and is skipped.
func (e *Executor) Recover(ctx context.Context) (int, error) {
	var errs []error
	recovered := 0

	queued, err := e.log.List(ctx, Filter{State: StateQueued})
	if err != nil {
		return 0, fmt.Errorf("list queued executions: %w", err)
	}
	for _, rec := range queued {
		if err := e.Enqueue(ctx, rec.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		recovered++
	}

	approved, err := e.log.List(ctx, Filter{State: StateApproved})
	if err != nil {
		errs = append(errs, fmt.Errorf("list approved executions: %w", err))
		return recovered, errors.Join(errs...)
	}
	for _, rec := range approved {
		moved, err := e.log.Transition(ctx, rec.ID, StateApproved, StateChange{To: StateQueued})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !moved {
			continue
		}
		if err := e.Enqueue(ctx, rec.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		recovered++
	}
	return recovered, errors.Join(errs...)
}
