package subscriptions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with a per-user active index
type MemoryStore struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	activeBy map[string]string // userID -> subscription ID
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:     make(map[string]*Subscription),
		activeBy: make(map[string]string),
		now:      time.Now,
	}
}

// Get implements Store.Get
func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Clone(), nil
}

// GetActiveForUser implements Store.GetActiveForUser
func (m *MemoryStore) GetActiveForUser(ctx context.Context, userID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.activeBy[userID]
	if !ok {
		return nil, nil
	}
	return m.subs[id].Clone(), nil
}

// FindActiveAutoRenewing implements Store.FindActiveAutoRenewing
func (m *MemoryStore) FindActiveAutoRenewing(ctx context.Context) ([]*Subscription, error) {
	return m.collect(func(s *Subscription) bool { return s.Billable() }), nil
}

// FindActiveEndingBy implements Store.FindActiveEndingBy
func (m *MemoryStore) FindActiveEndingBy(ctx context.Context, t time.Time) ([]*Subscription, error) {
	return m.collect(func(s *Subscription) bool {
		return s.IsActive() && !s.CurrentPeriodEnd.After(t)
	}), nil
}

// List implements Store.List
func (m *MemoryStore) List(ctx context.Context, filter Filter) ([]*Subscription, error) {
	return m.collect(filter.Matches), nil
}

// CountActiveForPlan implements Store.CountActiveForPlan
func (m *MemoryStore) CountActiveForPlan(ctx context.Context, planID string) (int, error) {
	n := len(m.collect(func(s *Subscription) bool {
		return s.IsActive() && (s.PlanID == planID || s.PendingPlanID == planID)
	}))
	return n, nil
}

func (m *MemoryStore) collect(keep func(*Subscription) bool) []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, s := range m.subs {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Create implements Store.Create
func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	if sub.Status == "" {
		sub.Status = StatusActive
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[sub.ID]; exists {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidSubscription, sub.ID)
	}
	if sub.IsActive() {
		if _, exists := m.activeBy[sub.UserID]; exists {
			return fmt.Errorf("%w: user %s", ErrActiveExists, sub.UserID)
		}
	}

	now := m.now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	m.subs[sub.ID] = sub.Clone()
	if sub.IsActive() {
		m.activeBy[sub.UserID] = sub.ID
	}
	return nil
}

// SchedulePlanChange implements Store.SchedulePlanChange
func (m *MemoryStore) SchedulePlanChange(ctx context.Context, id, planID string, effectiveAt time.Time) error {
	return m.mutateActive(id, func(s *Subscription) {
		s.PendingPlanID = planID
		at := effectiveAt
		s.PendingChangeAt = &at
	})
}

// ClearPlanChange implements Store.ClearPlanChange
func (m *MemoryStore) ClearPlanChange(ctx context.Context, id string) error {
	return m.mutateActive(id, func(s *Subscription) {
		s.PendingPlanID = ""
		s.PendingChangeAt = nil
	})
}

// Renew implements Store.Renew
func (m *MemoryStore) Renew(ctx context.Context, id, planID string, periodStart, periodEnd time.Time) error {
	return m.mutateActive(id, func(s *Subscription) {
		s.PlanID = planID
		s.CurrentPeriodStart = periodStart
		s.CurrentPeriodEnd = periodEnd
		s.PendingPlanID = ""
		s.PendingChangeAt = nil
	})
}

// Cancel implements Store.Cancel
func (m *MemoryStore) Cancel(ctx context.Context, id string, at time.Time) error {
	return m.mutateActive(id, func(s *Subscription) {
		s.Status = StatusCanceled
		s.AutoRenew = false
		canceledAt := at
		s.CanceledAt = &canceledAt
		delete(m.activeBy, s.UserID)
	})
}

// SetAutoRenew implements Store.SetAutoRenew
func (m *MemoryStore) SetAutoRenew(ctx context.Context, id string, autoRenew bool) error {
	return m.mutateActive(id, func(s *Subscription) {
		s.AutoRenew = autoRenew
	})
}

func (m *MemoryStore) mutateActive(id string, fn func(*Subscription)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !s.IsActive() {
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	fn(s)
	s.UpdatedAt = m.now()
	return nil
}
