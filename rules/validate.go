package rules

import (
	"errors"
	"fmt"
	"regexp"
)

// ValidationError marks input rejected at the authoring or ingestion
// boundary. It is the only error class callers of rule-authoring APIs and
// SubmitTriggerEvent see synchronously; execution-time failures are recorded
// on the log instead.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var codePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// Validate checks that a rule is internally consistent: identity fields are
// present, the condition parameters match the condition type, and the action
// side names a known action with a well-formed config.
func (r *Rule) Validate() error {
	if r.CompanyID == "" {
		return Validationf("rule company id is required")
	}
	if r.Code == "" {
		return Validationf("rule code is required")
	}
	if len(r.Code) > 64 || !codePattern.MatchString(r.Code) {
		return Validationf("rule code %q must start with a letter and contain only letters, digits, _ or - (max 64 chars)", r.Code)
	}
	if r.Name == "" {
		return Validationf("rule name is required")
	}
	if r.Priority < PriorityLow || r.Priority > PriorityCritical {
		return Validationf("rule priority %d out of range 1-4", r.Priority)
	}

	if err := r.validateCondition(); err != nil {
		return err
	}

	if !KnownActionType(r.ActionType) {
		return Validationf("unknown action type %q", r.ActionType)
	}
	if r.ActionConfig.Type == "" {
		r.ActionConfig.Type = r.ActionType
	}
	if r.ActionConfig.Type != r.ActionType {
		return Validationf("action config type %q does not match rule action type %q", r.ActionConfig.Type, r.ActionType)
	}
	if err := r.ActionConfig.Validate(); err != nil {
		return err
	}
	if r.TargetModule == "" {
		r.TargetModule = DefaultTargetModule(r.ActionType)
	}
	return nil
}

func (r *Rule) validateCondition() error {
	switch r.ConditionType {
	case ConditionRatingCategory:
		if len(r.TriggerValues.Categories) == 0 {
			return Validationf("rating_category rule %s requires at least one category code", r.Code)
		}
	case ConditionScoreBelow, ConditionScoreAbove:
		if !KnownSection(r.ConditionSection) {
			return Validationf("rule %s has unknown condition section %q", r.Code, r.ConditionSection)
		}
		if r.TriggerValues.Threshold <= 0 {
			return Validationf("%s rule %s requires a positive threshold", r.ConditionType, r.Code)
		}
	case ConditionRepeatedLow:
		if !KnownSection(r.ConditionSection) {
			return Validationf("rule %s has unknown condition section %q", r.Code, r.ConditionSection)
		}
		if r.TriggerValues.Threshold <= 0 {
			return Validationf("repeated_low rule %s requires a positive threshold", r.Code)
		}
		if r.TriggerValues.Window < 2 {
			return Validationf("repeated_low rule %s requires a lookback window of at least 2", r.Code)
		}
	default:
		return Validationf("unknown condition type %q", r.ConditionType)
	}
	return nil
}

// ApprovalPolicy is the tenant-level policy deciding which dispatched
// actions must pass the human approval gate.
type ApprovalPolicy struct {
	// MandatoryNeedsApproval routes every mandatory action through approval.
	MandatoryNeedsApproval bool
	// ActionTypes always require approval regardless of the mandatory flag.
	ActionTypes []ActionType
}

// DefaultApprovalPolicy requires approval for mandatory actions and for the
// two action types that create formal records against an employee.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{
		MandatoryNeedsApproval: true,
		ActionTypes:            []ActionType{ActionCreatePIP, ActionSuggestSuccession},
	}
}

// RequiresApproval derives the approval requirement for a rule.
func (p ApprovalPolicy) RequiresApproval(r *Rule) bool {
	if p.MandatoryNeedsApproval && r.Mandatory {
		return true
	}
	for _, at := range p.ActionTypes {
		if at == r.ActionType {
			return true
		}
	}
	return false
}
