package actions

import (
	"context"
	"errors"
	"time"

	"github.com/daryls-hrplus/intellihrm-sub073/internal/logger"
)

// Gateway is the human approval gate. Bulk operations transition each record
// independently with per-record compare-and-swap: a record already resolved
// concurrently is skipped, never an error, and the returned count is the
// number actually transitioned so callers can reconcile partial batches.
type Gateway struct {
	log  Store
	exec *Executor
	now  func() time.Time
}

// NewGateway creates an approval gateway handing approved records to exec.
func NewGateway(log Store, exec *Executor) *Gateway {
	return &Gateway{log: log, exec: exec, now: time.Now}
}

// BulkApprove approves every pending record in ids and hands each to the
// executor. Records not in pending_approval are skipped.
func (g *Gateway) BulkApprove(ctx context.Context, ids []string, approvedBy string) (int, error) {
	var errs []error
	count := 0
	for _, id := range ids {
		approvedAt := g.now()
		moved, err := g.log.Transition(ctx, id, StatePendingApproval, StateChange{
			To:         StateApproved,
			ApprovedBy: approvedBy,
			ApprovedAt: &approvedAt,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !moved {
			continue
		}
		count++

		if _, err := g.log.Transition(ctx, id, StateApproved, StateChange{To: StateQueued}); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := g.exec.Enqueue(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	logger.Info("bulk approve", "requested", len(ids), "approved", count, "approved_by", approvedBy)
	return count, errors.Join(errs...)
}

// BulkReject rejects every pending record in ids. Rejected is terminal: a
// rejected record is never executed. Records not in pending_approval are
// skipped.
func (g *Gateway) BulkReject(ctx context.Context, ids []string, rejectedBy, reason string) (int, error) {
	var errs []error
	count := 0
	for _, id := range ids {
		rejectedAt := g.now()
		moved, err := g.log.Transition(ctx, id, StatePendingApproval, StateChange{
			To:              StateRejected,
			RejectedBy:      rejectedBy,
			RejectedAt:      &rejectedAt,
			RejectionReason: reason,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if moved {
			count++
		}
	}
	logger.Info("bulk reject", "requested", len(ids), "rejected", count, "rejected_by", rejectedBy)
	return count, errors.Join(errs...)
}
