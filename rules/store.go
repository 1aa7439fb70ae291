package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store manages rule persistence per tenant.
type Store interface {
	// Upsert validates and saves a rule. A new rule's code must not
	// collide with an existing active rule for the tenant; an existing
	// rule's code is immutable.
	Upsert(ctx context.Context, rule *Rule) error

	// Get retrieves one rule.
	Get(ctx context.Context, companyID, id string) (*Rule, error)

	// ActiveRules returns the tenant's active rules ordered by priority
	// descending, then created_at ascending.
	ActiveRules(ctx context.Context, companyID string) ([]*Rule, error)

	// List returns all of the tenant's rules, active or not.
	List(ctx context.Context, companyID string) ([]*Rule, error)

	// Deactivate takes a rule out of evaluation without deleting it.
	Deactivate(ctx context.Context, companyID, id string) error
}

// InMemoryStore is a map-backed Store for tests and single-process use.
type InMemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*Rule
	now   func() time.Time
}

// NewInMemoryStore creates an empty in-memory rule store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rules: make(map[string]*Rule),
		now:   time.Now,
	}
}

func (s *InMemoryStore) Upsert(_ context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.rules[rule.ID]; ok {
		if existing.Code != rule.Code {
			return Validationf("rule code is immutable: %s cannot become %s", existing.Code, rule.Code)
		}
		// Re-activation must re-run the collision check: the code may
		// have been reused by another rule while this one was inactive.
		if rule.Active && !existing.Active {
			for id, other := range s.rules {
				if id != rule.ID && other.CompanyID == rule.CompanyID && other.Code == rule.Code && other.Active {
					return Validationf("rule code %s already in use for this tenant", rule.Code)
				}
			}
		}
		rule.CreatedAt = existing.CreatedAt
		rule.UpdatedAt = now
		s.rules[rule.ID] = cloneRule(rule)
		return nil
	}

	for _, other := range s.rules {
		if other.CompanyID == rule.CompanyID && other.Code == rule.Code && other.Active {
			return Validationf("rule code %s already in use for this tenant", rule.Code)
		}
	}

	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, companyID, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok || rule.CompanyID != companyID {
		return nil, fmt.Errorf("rule %s not found", id)
	}
	return cloneRule(rule), nil
}

func (s *InMemoryStore) ActiveRules(_ context.Context, companyID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Rule
	for _, rule := range s.rules {
		if rule.CompanyID == companyID && rule.Active {
			active = append(active, cloneRule(rule))
		}
	}
	sortRules(active)
	return active, nil
}

func (s *InMemoryStore) List(_ context.Context, companyID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*Rule
	for _, rule := range s.rules {
		if rule.CompanyID == companyID {
			all = append(all, cloneRule(rule))
		}
	}
	sortRules(all)
	return all, nil
}

func (s *InMemoryStore) Deactivate(_ context.Context, companyID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok || rule.CompanyID != companyID {
		return fmt.Errorf("rule %s not found", id)
	}
	rule.Active = false
	rule.UpdatedAt = s.now()
	return nil
}

// sortRules orders rules for evaluation: priority descending, created_at
// ascending, with rule code as a final stable tie-break.
func sortRules(ruleList []*Rule) {
	sort.SliceStable(ruleList, func(i, j int) bool {
		if ruleList[i].Priority != ruleList[j].Priority {
			return ruleList[i].Priority > ruleList[j].Priority
		}
		if !ruleList[i].CreatedAt.Equal(ruleList[j].CreatedAt) {
			return ruleList[i].CreatedAt.Before(ruleList[j].CreatedAt)
		}
		return ruleList[i].Code < ruleList[j].Code
	})
}

func cloneRule(rule *Rule) *Rule {
	clone := *rule
	clone.TriggerValues.Categories = append([]string(nil), rule.TriggerValues.Categories...)
	return &clone
}
