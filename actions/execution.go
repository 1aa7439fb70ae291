// Package actions tracks each matched rule's response to a trigger event
// through dispatch, approval, execution and audit.
package actions

import (
	"time"

	"github.com/google/uuid"

	"github.com/daryls-hrplus/intellihrm-sub073/rules"
)

// State is the lifecycle state of an action execution record.
type State string

const (
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateRejected        State = "rejected"
	StateQueued          State = "queued"
	StateRetrying        State = "retrying"
	StateSuccess         State = "success"
	StateFailed          State = "failed"
)

// validTransitions encodes the state machine. A queued record moves through
// retrying while a worker holds it, so two workers can never claim the same
// record. failed re-enters queued only via an explicit operator retry.
var validTransitions = map[State][]State{
	StatePendingApproval: {StateApproved, StateRejected},
	StateApproved:        {StateQueued},
	StateQueued:          {StateRetrying, StateFailed},
	StateRetrying:        {StateSuccess, StateFailed},
	StateFailed:          {StateQueued},
}

// CanTransition reports whether from → to is a legal state change.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a record in this state will never run again
// without operator intervention.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateSuccess || s == StateFailed
}

// KnownState reports whether s is a recognized state value.
func KnownState(s State) bool {
	switch s {
	case StatePendingApproval, StateApproved, StateRejected,
		StateQueued, StateRetrying, StateSuccess, StateFailed:
		return true
	}
	return false
}

// Execution is the audit record for one (rule, trigger event) match. Records
// are created by the dispatcher, mutated only by the approval gateway and
// the executor, and never deleted.
type Execution struct {
	ID              string `json:"id"`
	RuleID          string `json:"ruleId"`
	RuleCode        string `json:"ruleCode"`
	SubjectID       string `json:"subjectId"`
	CompanyID       string `json:"companyId"`
	TriggerEventRef string `json:"triggerEventRef"`

	TargetModule string             `json:"targetModule"`
	ActionType   rules.ActionType   `json:"actionType"`
	ActionConfig rules.ActionConfig `json:"actionConfig"`

	State            State  `json:"state"`
	RequiresApproval bool   `json:"requiresApproval"`
	Mandatory        bool   `json:"mandatory"`
	Priority         int    `json:"priority"`
	MatchReason      string `json:"matchReason,omitempty"`

	// SuppressedBy names the winning rule code when this record is a no-op
	// success written for a duplicate suppressed at dispatch.
	SuppressedBy string `json:"suppressedBy,omitempty"`

	ApprovedBy      string     `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	RejectedBy      string     `json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`

	TargetRecordID string     `json:"targetRecordId,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	ExecutedAt     *time.Time `json:"executedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// newExecution builds the base record for a match; the dispatcher fills in
// the state.
func newExecution(match rules.Match, event rules.TriggerEvent, now time.Time) *Execution {
	rule := match.Rule
	return &Execution{
		ID:               uuid.NewString(),
		RuleID:           rule.ID,
		RuleCode:         rule.Code,
		SubjectID:        event.SubjectID,
		CompanyID:        event.CompanyID,
		TriggerEventRef:  event.Ref(),
		TargetModule:     rule.TargetModule,
		ActionType:       rule.ActionType,
		ActionConfig:     rule.ActionConfig,
		RequiresApproval: rule.RequiresApproval,
		Mandatory:        rule.Mandatory,
		Priority:         rule.Priority,
		MatchReason:      match.Reason,
		CreatedAt:        now,
	}
}
