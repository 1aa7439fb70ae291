package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// guardCostLimit caps CEL evaluation cost so a pathological guard cannot
// stall evaluation.
const guardCostLimit = 1_000_000

// GuardSet compiles and caches the optional CEL guard expressions rules may
// carry. Compilation happens once per rule version; evaluation is thread-safe
// for concurrent reads.
type GuardSet struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewGuardSet creates a guard set with the single `event` variable guards
// may reference.
func NewGuardSet() (*GuardSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create guard environment: %w", err)
	}
	return &GuardSet{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile validates and caches a rule's guard expression. Rules without a
// guard are a no-op. Authoring APIs call this so a bad guard is rejected
// before the rule is stored.
func (g *GuardSet) Compile(rule *Rule) error {
	if rule.Guard == "" {
		g.Remove(rule.ID)
		return nil
	}

	ast, issues := g.env.Compile(rule.Guard)
	if issues != nil && issues.Err() != nil {
		return Validationf("rule %s guard does not compile: %v", rule.Code, issues.Err())
	}

	prog, err := g.env.Program(ast, cel.CostLimit(guardCostLimit))
	if err != nil {
		return fmt.Errorf("build guard program for rule %s: %w", rule.Code, err)
	}

	g.mu.Lock()
	g.programs[rule.ID] = prog
	g.mu.Unlock()
	return nil
}

// Remove drops a rule's cached program.
func (g *GuardSet) Remove(ruleID string) {
	g.mu.Lock()
	delete(g.programs, ruleID)
	g.mu.Unlock()
}

// Allows evaluates a rule's guard against the event. A missing program is
// compiled on demand. Any compile or evaluation failure, and any non-boolean
// result, fails closed: the rule does not match.
func (g *GuardSet) Allows(rule *Rule, event TriggerEvent) bool {
	if rule.Guard == "" {
		return true
	}

	g.mu.RLock()
	prog, ok := g.programs[rule.ID]
	g.mu.RUnlock()

	if !ok {
		if err := g.Compile(rule); err != nil {
			return false
		}
		g.mu.RLock()
		prog = g.programs[rule.ID]
		g.mu.RUnlock()
		if prog == nil {
			return false
		}
	}

	out, _, err := prog.Eval(event.Facts())
	if err != nil {
		return false
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed
}
