package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/daryls-hrplus/intellihrm-sub073/rules"
)

// ApplyRequest is the payload the orchestrator hands a target module. The
// idempotency key is the execution record ID: calling a target twice with
// the same key must produce the same record ID without duplicating the
// underlying effect.
type ApplyRequest struct {
	ActionType     rules.ActionType   `json:"actionType"`
	TargetModule   string             `json:"targetModule"`
	SubjectID      string             `json:"subjectId"`
	CompanyID      string             `json:"companyId"`
	Config         rules.ActionConfig `json:"config"`
	IdempotencyKey string             `json:"idempotencyKey"`
}

// ApplyResult is a target module's acknowledgement.
type ApplyResult struct {
	RecordID string `json:"recordId"`
}

// Target is the contract every target module implements once.
type Target interface {
	ApplyAction(ctx context.Context, req ApplyRequest) (ApplyResult, error)
}

// Registry maps target module names to their Target implementations.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]Target
}

// NewRegistry creates an empty target registry.
func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]Target)}
}

// Register binds a module name to a target. Registering the same module
// twice is a wiring bug and returns an error.
func (r *Registry) Register(module string, target Target) error {
	if module == "" {
		return fmt.Errorf("target module name is required")
	}
	if target == nil {
		return fmt.Errorf("target for module %s is nil", module)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.targets[module]; exists {
		return fmt.Errorf("target module %s already registered", module)
	}
	r.targets[module] = target
	return nil
}

// Lookup returns the target for a module.
func (r *Registry) Lookup(module string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target, ok := r.targets[module]
	return target, ok
}

// Modules lists registered module names, sorted.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	modules := make([]string, 0, len(r.targets))
	for module := range r.targets {
		modules = append(modules, module)
	}
	sort.Strings(modules)
	return modules
}
