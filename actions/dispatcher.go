package actions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/daryls-hrplus/intellihrm-sub073/rules"
)

// Dispatcher turns matched rules into execution records. It applies the
// duplicate-conflict policy, decides the initial state from the approval
// requirement, and appends to the log. It never calls a target module.
type Dispatcher struct {
	log Store
	now func() time.Time
}

// NewDispatcher creates a dispatcher appending to log.
func NewDispatcher(log Store) *Dispatcher {
	return &Dispatcher{log: log, now: time.Now}
}

// Dispatch persists one record per match. When several matched rules target
// the same (action type, target module) pair for the event, only the
// highest-priority rule is dispatched (ties broken by rule code ascending);
// mandatory rules are never suppressed by a non-mandatory winner. Suppressed
// duplicates are written as no-op successes naming the winner, so the audit
// trail shows they were considered, not dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, event rules.TriggerEvent, matches []rules.Match) ([]*Execution, error) {
	if len(matches) == 0 {
		return nil, nil
	}

	winners := selectWinners(matches)
	now := d.now()

	records := make([]*Execution, 0, len(matches))
	for _, match := range matches {
		rec := newExecution(match, event, now)
		if winner, suppressed := winners[match.Rule.ID]; suppressed {
			rec.State = StateSuccess
			rec.SuppressedBy = winner
			rec.ErrorMessage = ""
		} else if rec.RequiresApproval {
			rec.State = StatePendingApproval
		} else {
			rec.State = StateQueued
		}
		records = append(records, rec)
	}

	// The batch lands atomically: a storage failure persists nothing, so
	// the submitter can replay the whole event instead of finding it
	// half dispatched and deduplicated.
	if err := d.log.InsertBatch(ctx, records); err != nil {
		return nil, fmt.Errorf("persist executions for event %s: %w", event.Ref(), err)
	}
	return records, nil
}

// selectWinners returns, for every suppressed rule ID, the code of the rule
// that superseded it.
func selectWinners(matches []rules.Match) map[string]string {
	groups := make(map[string][]rules.Match)
	for _, match := range matches {
		key := string(match.Rule.ActionType) + "|" + match.Rule.TargetModule
		groups[key] = append(groups[key], match)
	}

	suppressed := make(map[string]string)
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Rule.Priority != group[j].Rule.Priority {
				return group[i].Rule.Priority > group[j].Rule.Priority
			}
			return group[i].Rule.Code < group[j].Rule.Code
		})
		winner := group[0].Rule
		for _, match := range group[1:] {
			// A mandatory action may only be superseded by a
			// mandatory winner.
			if match.Rule.Mandatory && !winner.Mandatory {
				continue
			}
			suppressed[match.Rule.ID] = winner.Code
		}
	}
	return suppressed
}
