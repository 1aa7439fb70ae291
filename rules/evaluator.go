package rules

import "fmt"

// Evaluate runs every rule against the event, in the order given, and
// returns all matches. It is pure: no clock, no store access, no side
// effects, so the same inputs always yield the same match sequence.
//
// Boundary policy: score_below uses strict <, score_above uses strict >. A
// score exactly at the threshold matches neither side, so a below-rule and
// an above-rule sharing a threshold can never both fire on the boundary.
//
// guards may be nil; a rule with a guard expression only matches when its
// guard evaluates to true against the event. Guard errors fail closed.
func Evaluate(event TriggerEvent, ruleList []*Rule, guards *GuardSet) []Match {
	var matches []Match
	for _, rule := range ruleList {
		if !rule.Active {
			continue
		}
		reason, ok := matchCondition(event, rule)
		if !ok {
			continue
		}
		if rule.Guard != "" && guards != nil && !guards.Allows(rule, event) {
			continue
		}
		matches = append(matches, Match{Rule: rule, Reason: reason})
	}
	return matches
}

func matchCondition(event TriggerEvent, rule *Rule) (string, bool) {
	switch rule.ConditionType {
	case ConditionRatingCategory:
		for _, code := range rule.TriggerValues.Categories {
			if event.CategoryCode == code {
				return fmt.Sprintf("category %s in trigger set", code), true
			}
		}
		return "", false

	case ConditionScoreBelow:
		score, ok := event.SectionScores[rule.ConditionSection]
		if !ok {
			return "", false
		}
		if score < rule.TriggerValues.Threshold {
			return fmt.Sprintf("%s score %.2f below %.2f", rule.ConditionSection, score, rule.TriggerValues.Threshold), true
		}
		return "", false

	case ConditionScoreAbove:
		score, ok := event.SectionScores[rule.ConditionSection]
		if !ok {
			return "", false
		}
		if score > rule.TriggerValues.Threshold {
			return fmt.Sprintf("%s score %.2f above %.2f", rule.ConditionSection, score, rule.TriggerValues.Threshold), true
		}
		return "", false

	case ConditionRepeatedLow:
		return matchRepeatedLow(event, rule)
	}
	return "", false
}

// matchRepeatedLow matches when the rule's window is fully populated and the
// current score plus the window most recent prior scores on the section are
// all strictly below the threshold. Fewer prior points than the window means
// no match: insufficient history is not evidence of a pattern.
func matchRepeatedLow(event TriggerEvent, rule *Rule) (string, bool) {
	current, ok := event.SectionScores[rule.ConditionSection]
	if !ok {
		return "", false
	}
	threshold := rule.TriggerValues.Threshold
	if current >= threshold {
		return "", false
	}

	prior := 0
	for _, point := range event.History {
		if point.Section != rule.ConditionSection {
			continue
		}
		if point.Score >= threshold {
			return "", false
		}
		prior++
		if prior == rule.TriggerValues.Window {
			break
		}
	}
	if prior < rule.TriggerValues.Window {
		return "", false
	}
	return fmt.Sprintf("%s below %.2f for %d consecutive periods", rule.ConditionSection, threshold, prior+1), true
}
