package plans

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Catalog is the read side of the plan catalog
type Catalog interface {
	// GetPlanByID returns ErrPlanNotFound for unknown IDs
	GetPlanByID(ctx context.Context, id string) (*Plan, error)
	// GetAllPlans returns every plan ordered by DisplayOrder
	GetAllPlans(ctx context.Context) ([]*Plan, error)
}

// Store is a Catalog that can also be edited
type Store interface {
	Catalog
	// SavePlan creates or replaces a plan
	SavePlan(ctx context.Context, plan *Plan) error
	// DeprecatePlan marks a plan as deprecated; plans are never deleted
	DeprecatePlan(ctx context.Context, id string) error
}

// SortByDisplayOrder sorts plans by DisplayOrder, then ID
func SortByDisplayOrder(list []*Plan) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].DisplayOrder != list[j].DisplayOrder {
			return list[i].DisplayOrder < list[j].DisplayOrder
		}
		return list[i].ID < list[j].ID
	})
}

// MemoryStore is an in-memory Store
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]*Plan
	now   func() time.Time
}

// NewMemoryStore creates a MemoryStore holding the given plans
func NewMemoryStore(initial ...*Plan) *MemoryStore {
	s := &MemoryStore{
		plans: make(map[string]*Plan),
		now:   time.Now,
	}
	for _, p := range initial {
		s.plans[p.ID] = p.Clone()
	}
	return s
}

// GetPlanByID implements Catalog.GetPlanByID
func (s *MemoryStore) GetPlanByID(ctx context.Context, id string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return p.Clone(), nil
}

// GetAllPlans implements Catalog.GetAllPlans
func (s *MemoryStore) GetAllPlans(ctx context.Context) ([]*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Plan, 0, len(s.plans))
	for _, p := range s.plans {
		list = append(list, p.Clone())
	}
	SortByDisplayOrder(list)
	return list, nil
}

// SavePlan implements Store.SavePlan
func (s *MemoryStore) SavePlan(ctx context.Context, plan *Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := plan.Clone()
	if existing, ok := s.plans[plan.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
		// Deprecation is one-way
		stored.Deprecated = stored.Deprecated || existing.Deprecated
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.plans[plan.ID] = stored

	plan.CreatedAt = stored.CreatedAt
	plan.UpdatedAt = stored.UpdatedAt
	plan.Deprecated = stored.Deprecated
	return nil
}

// DeprecatePlan implements Store.DeprecatePlan
func (s *MemoryStore) DeprecatePlan(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	p.Deprecated = true
	p.UpdatedAt = s.now()
	return nil
}

// Delete removes a plan outright. Stores expose no delete; this exists for
// tests that simulate a plan vanishing between billing cycles.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, id)
}
