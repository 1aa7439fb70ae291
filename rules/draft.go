package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Draft is a candidate rule produced by advisory tooling (e.g. an offline
// suggestion generator) awaiting human review. Drafts never take part in
// evaluation; Promote is the only path into the active store.
type Draft struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	Source    string    `json:"source"`
	Note      string    `json:"note,omitempty"`
	Rule      Rule      `json:"rule"`
	CreatedAt time.Time `json:"createdAt"`
}

// DraftStore holds pending drafts in memory. Drafts are advisory and
// disposable; losing them on restart is acceptable.
type DraftStore struct {
	mu     sync.RWMutex
	drafts map[string]*Draft
	now    func() time.Time
}

// NewDraftStore creates an empty draft store.
func NewDraftStore() *DraftStore {
	return &DraftStore{
		drafts: make(map[string]*Draft),
		now:    time.Now,
	}
}

// Add records a draft for review. The embedded rule is not validated here;
// review and promotion catch malformed suggestions.
func (s *DraftStore) Add(_ context.Context, draft *Draft) error {
	if draft.CompanyID == "" {
		return Validationf("draft company id is required")
	}
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	draft.CreatedAt = s.now()
	s.drafts[draft.ID] = draft
	return nil
}

// List returns a tenant's pending drafts, oldest first.
func (s *DraftStore) List(_ context.Context, companyID string) ([]*Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*Draft
	for _, draft := range s.drafts {
		if draft.CompanyID == companyID {
			list = append(list, draft)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// Discard removes a draft without promoting it.
func (s *DraftStore) Discard(_ context.Context, companyID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.drafts[id]
	if !ok || draft.CompanyID != companyID {
		return fmt.Errorf("draft %s not found", id)
	}
	delete(s.drafts, id)
	return nil
}

// Promote validates a draft's rule and inserts it into the active store as
// an inactive rule; an administrator activates it separately. The draft is
// removed on success.
func (s *DraftStore) Promote(ctx context.Context, companyID, id string, active Store, guards *GuardSet) (*Rule, error) {
	s.mu.Lock()
	draft, ok := s.drafts[id]
	if !ok || draft.CompanyID != companyID {
		s.mu.Unlock()
		return nil, fmt.Errorf("draft %s not found", id)
	}
	rule := draft.Rule
	s.mu.Unlock()

	rule.CompanyID = companyID
	rule.Active = false
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if guards != nil {
		if err := guards.Compile(&rule); err != nil {
			return nil, err
		}
	}
	if err := active.Upsert(ctx, &rule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.drafts, id)
	s.mu.Unlock()
	return &rule, nil
}
