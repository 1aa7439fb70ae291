package actions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Filter narrows execution log queries. Zero-valued fields are ignored.
type Filter struct {
	CompanyID    string
	TargetModule string
	State        State
	From         time.Time
	To           time.Time
}

// Key canonicalizes the filter for cache lookup.
func (f Filter) Key() string {
	var b strings.Builder
	b.WriteString(f.CompanyID)
	b.WriteByte('|')
	b.WriteString(f.TargetModule)
	b.WriteByte('|')
	b.WriteString(string(f.State))
	b.WriteByte('|')
	if !f.From.IsZero() {
		b.WriteString(f.From.UTC().Format(time.RFC3339Nano))
	}
	b.WriteByte('|')
	if !f.To.IsZero() {
		b.WriteString(f.To.UTC().Format(time.RFC3339Nano))
	}
	return b.String()
}

func (f Filter) matches(rec *Execution) bool {
	if f.CompanyID != "" && rec.CompanyID != f.CompanyID {
		return false
	}
	if f.TargetModule != "" && rec.TargetModule != f.TargetModule {
		return false
	}
	if f.State != "" && rec.State != f.State {
		return false
	}
	if !f.From.IsZero() && rec.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// StateChange carries the fields a transition writes alongside the new
// state. Only fields relevant to the transition are consulted.
type StateChange struct {
	To State

	ApprovedBy string
	ApprovedAt *time.Time

	RejectedBy      string
	RejectedAt      *time.Time
	RejectionReason string

	TargetRecordID string
	ErrorMessage   string
	ExecutedAt     *time.Time
}

// Store persists the execution log. Records are append-mostly: Insert and
// InsertBatch are the only ways in, Transition the only way to mutate, and
// nothing deletes.
type Store interface {
	Insert(ctx context.Context, rec *Execution) error

	// InsertBatch persists every record or none of them. Dispatch relies
	// on this: a half-written batch would make event replay a no-op while
	// some matched rules still have no record.
	InsertBatch(ctx context.Context, recs []*Execution) error

	Get(ctx context.Context, id string) (*Execution, error)
	List(ctx context.Context, f Filter) ([]*Execution, error)

	// Transition applies change iff the record's current state equals
	// from (compare-and-swap). It returns false without error when the
	// record has moved on, so concurrent callers lose quietly.
	Transition(ctx context.Context, id string, from State, change StateChange) (bool, error)

	// HasEvent reports whether any execution exists for the tenant's
	// trigger event reference (idempotent ingestion).
	HasEvent(ctx context.Context, companyID, eventRef string) (bool, error)
}

// InMemoryStore is a map-backed Store for tests and single-process use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Execution
}

// NewInMemoryStore creates an empty in-memory execution log.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Execution)}
}

func (s *InMemoryStore) Insert(_ context.Context, rec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("execution %s already exists", rec.ID)
	}
	clone := *rec
	s.records[rec.ID] = &clone
	return nil
}

func (s *InMemoryStore) InsertBatch(_ context.Context, recs []*Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range recs {
		if _, exists := s.records[rec.ID]; exists {
			return fmt.Errorf("execution %s already exists", rec.ID)
		}
	}
	for _, rec := range recs {
		clone := *rec
		s.records[rec.ID] = &clone
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("execution %s not found", id)
	}
	clone := *rec
	return &clone, nil
}

func (s *InMemoryStore) List(_ context.Context, f Filter) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*Execution
	for _, rec := range s.records {
		if f.matches(rec) {
			clone := *rec
			list = append(list, &clone)
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

func (s *InMemoryStore) Transition(_ context.Context, id string, from State, change StateChange) (bool, error) {
	if !CanTransition(from, change.To) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, change.To)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, fmt.Errorf("execution %s not found", id)
	}
	if rec.State != from {
		return false, nil
	}

	applyChange(rec, change)
	return true, nil
}

func (s *InMemoryStore) HasEvent(_ context.Context, companyID, eventRef string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.CompanyID == companyID && rec.TriggerEventRef == eventRef {
			return true, nil
		}
	}
	return false, nil
}

func applyChange(rec *Execution, change StateChange) {
	rec.State = change.To
	if change.ApprovedBy != "" {
		rec.ApprovedBy = change.ApprovedBy
		rec.ApprovedAt = change.ApprovedAt
	}
	if change.RejectedBy != "" {
		rec.RejectedBy = change.RejectedBy
		rec.RejectedAt = change.RejectedAt
		rec.RejectionReason = change.RejectionReason
	}
	if change.TargetRecordID != "" {
		rec.TargetRecordID = change.TargetRecordID
	}
	rec.ErrorMessage = change.ErrorMessage
	if change.ExecutedAt != nil {
		rec.ExecutedAt = change.ExecutedAt
	}
}
