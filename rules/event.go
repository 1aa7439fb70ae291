package rules

import (
	"fmt"
	"time"
)

// TriggerEvent is an immutable fact emitted by a source module when a
// qualifying outcome occurs (e.g. an appraisal is finalized).
type TriggerEvent struct {
	EventType     string              `json:"eventType"`
	SubjectID     string              `json:"subjectId"`
	CompanyID     string              `json:"companyId"`
	SectionScores map[Section]float64 `json:"sectionScores,omitempty"`
	CategoryCode  string              `json:"categoryCode,omitempty"`
	OccurredAt    time.Time           `json:"occurredAt"`

	// History holds prior section scores for the same subject, newest
	// first. Only repeated_low evaluation reads it.
	History []ScorePoint `json:"history,omitempty"`
}

// ScorePoint is one historical section score for a subject.
type ScorePoint struct {
	Section    Section   `json:"section"`
	Score      float64   `json:"score"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Validate rejects malformed events at the ingestion boundary.
func (e TriggerEvent) Validate() error {
	if e.EventType == "" {
		return Validationf("event type is required")
	}
	if e.SubjectID == "" {
		return Validationf("event subject id is required")
	}
	if e.CompanyID == "" {
		return Validationf("event company id is required")
	}
	if e.OccurredAt.IsZero() {
		return Validationf("event occurred_at is required")
	}
	return nil
}

// Ref canonicalizes the event's identity for duplicate detection. Two
// submissions with the same subject, type and occurrence time are the same
// event.
func (e TriggerEvent) Ref() string {
	return fmt.Sprintf("%s|%s|%s", e.SubjectID, e.EventType, e.OccurredAt.UTC().Format(time.RFC3339Nano))
}

// Facts exposes the event to guard expressions as a plain map.
func (e TriggerEvent) Facts() map[string]any {
	scores := make(map[string]float64, len(e.SectionScores))
	for section, score := range e.SectionScores {
		scores[string(section)] = score
	}
	return map[string]any{
		"event": map[string]any{
			"type":         e.EventType,
			"subjectId":    e.SubjectID,
			"companyId":    e.CompanyID,
			"categoryCode": e.CategoryCode,
			"scores":       scores,
		},
	}
}

// Match is one rule that qualified for an event. The evaluator returns every
// match unfiltered; conflict handling belongs to the dispatcher.
type Match struct {
	Rule   *Rule
	Reason string
}
