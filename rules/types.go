package rules

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConditionType selects which matching algorithm a rule uses.
type ConditionType string

const (
	ConditionRatingCategory ConditionType = "rating_category"
	ConditionScoreBelow     ConditionType = "score_below"
	ConditionScoreAbove     ConditionType = "score_above"
	ConditionRepeatedLow    ConditionType = "repeated_low"
)

// Section is the numeric facet of a trigger event a condition reads.
type Section string

const (
	SectionOverall          Section = "overall"
	SectionGoals            Section = "goals"
	SectionCompetencies     Section = "competencies"
	SectionResponsibilities Section = "responsibilities"
)

// ActionType identifies the operation a matched rule requests from a
// target module. Unknown values are rejected at rule-authoring time.
type ActionType string

const (
	ActionCreatePIP              ActionType = "create_pip"
	ActionCreateIDP              ActionType = "create_idp"
	ActionSuggestSuccession      ActionType = "suggest_succession"
	ActionBlockFinalization      ActionType = "block_finalization"
	ActionRequireComment         ActionType = "require_comment"
	ActionNotifyHR               ActionType = "notify_hr"
	ActionScheduleCoaching       ActionType = "schedule_coaching"
	ActionRequireDevelopmentPlan ActionType = "require_development_plan"
)

// Action priority levels, low to critical.
const (
	PriorityLow      = 1
	PriorityMedium   = 2
	PriorityHigh     = 3
	PriorityCritical = 4
)

// defaultTargetModules maps each action type to the module that owns it.
var defaultTargetModules = map[ActionType]string{
	ActionCreatePIP:              "performance",
	ActionCreateIDP:              "development",
	ActionSuggestSuccession:      "succession",
	ActionBlockFinalization:      "appraisal",
	ActionRequireComment:         "appraisal",
	ActionNotifyHR:               "notifications",
	ActionScheduleCoaching:       "learning",
	ActionRequireDevelopmentPlan: "development",
}

// DefaultTargetModule returns the module that implements actionType, or ""
// for an unknown action type.
func DefaultTargetModule(actionType ActionType) string {
	return defaultTargetModules[actionType]
}

// KnownActionType reports whether actionType is one of the supported actions.
func KnownActionType(actionType ActionType) bool {
	_, ok := defaultTargetModules[actionType]
	return ok
}

// KnownSection reports whether s is a valid condition section.
func KnownSection(s Section) bool {
	switch s {
	case SectionOverall, SectionGoals, SectionCompetencies, SectionResponsibilities:
		return true
	}
	return false
}

// TriggerValues holds the condition parameters. Which fields are meaningful
// depends on the rule's ConditionType: Categories for rating_category,
// Threshold for score_below/score_above, Threshold+Window for repeated_low.
type TriggerValues struct {
	Categories []string `json:"categories,omitempty"`
	Threshold  float64  `json:"threshold,omitempty"`
	Window     int      `json:"window,omitempty"`
}

// Rule is a tenant-scoped policy: a condition over trigger events paired
// with an action to request from a target module when the condition matches.
type Rule struct {
	ID          string `json:"id"`
	CompanyID   string `json:"companyId"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	ConditionType    ConditionType `json:"conditionType"`
	ConditionSection Section       `json:"conditionSection"`
	TriggerValues    TriggerValues `json:"triggerValues"`

	ActionType   ActionType   `json:"actionType"`
	TargetModule string       `json:"targetModule"`
	ActionConfig ActionConfig `json:"actionConfig"`

	Mandatory        bool `json:"mandatory"`
	Priority         int  `json:"priority"`
	RequiresApproval bool `json:"requiresApproval"`

	// Guard is an optional CEL expression ANDed with the structured
	// condition. Empty means no guard.
	Guard string `json:"guard,omitempty"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActionConfig is the payload handed to the target module, modeled as a
// tagged union keyed by action type so each variant is statically checked.
// At most one variant is set; a nil variant means the target's defaults.
type ActionConfig struct {
	Type ActionType `json:"type"`

	PIP             *PIPConfig             `json:"pip,omitempty"`
	IDP             *IDPConfig             `json:"idp,omitempty"`
	Succession      *SuccessionConfig      `json:"succession,omitempty"`
	Block           *BlockConfig           `json:"block,omitempty"`
	Comment         *CommentConfig         `json:"comment,omitempty"`
	Notify          *NotifyConfig          `json:"notify,omitempty"`
	Coaching        *CoachingConfig        `json:"coaching,omitempty"`
	DevelopmentPlan *DevelopmentPlanConfig `json:"developmentPlan,omitempty"`
}

// PIPConfig parameterizes a performance improvement plan.
type PIPConfig struct {
	DurationDays int    `json:"durationDays,omitempty"`
	ReviewerRole string `json:"reviewerRole,omitempty"`
	Template     string `json:"template,omitempty"`
}

// IDPConfig parameterizes an individual development plan.
type IDPConfig struct {
	FocusAreas   []string `json:"focusAreas,omitempty"`
	DurationDays int      `json:"durationDays,omitempty"`
}

// SuccessionConfig flags a subject for a succession pool.
type SuccessionConfig struct {
	PoolCode string `json:"poolCode,omitempty"`
}

// BlockConfig blocks finalization of the triggering record.
type BlockConfig struct {
	Message string `json:"message,omitempty"`
}

// CommentConfig requires a reviewer comment before the workflow continues.
type CommentConfig struct {
	Prompt    string `json:"prompt,omitempty"`
	MinLength int    `json:"minLength,omitempty"`
}

// NotifyConfig routes a notification to HR.
type NotifyConfig struct {
	Channel    string   `json:"channel,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Template   string   `json:"template,omitempty"`
}

// CoachingConfig schedules coaching sessions.
type CoachingConfig struct {
	SessionCount int    `json:"sessionCount,omitempty"`
	TopicCode    string `json:"topicCode,omitempty"`
}

// DevelopmentPlanConfig requires a development plan with a due date.
type DevelopmentPlanConfig struct {
	DueInDays int `json:"dueInDays,omitempty"`
}

// variantSet reports which variants are populated, keyed by action type.
func (c ActionConfig) variantSet() map[ActionType]bool {
	set := map[ActionType]bool{}
	if c.PIP != nil {
		set[ActionCreatePIP] = true
	}
	if c.IDP != nil {
		set[ActionCreateIDP] = true
	}
	if c.Succession != nil {
		set[ActionSuggestSuccession] = true
	}
	if c.Block != nil {
		set[ActionBlockFinalization] = true
	}
	if c.Comment != nil {
		set[ActionRequireComment] = true
	}
	if c.Notify != nil {
		set[ActionNotifyHR] = true
	}
	if c.Coaching != nil {
		set[ActionScheduleCoaching] = true
	}
	if c.DevelopmentPlan != nil {
		set[ActionRequireDevelopmentPlan] = true
	}
	return set
}

// Validate checks that the config's type is known and that only the variant
// matching the type is populated.
func (c ActionConfig) Validate() error {
	if !KnownActionType(c.Type) {
		return Validationf("unknown action type %q", c.Type)
	}
	for variant := range c.variantSet() {
		if variant != c.Type {
			return Validationf("action config for %s carries a %s payload", c.Type, variant)
		}
	}
	return nil
}

// Value serializes the config for storage.
func (c ActionConfig) Value() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal action config: %w", err)
	}
	return data, nil
}
