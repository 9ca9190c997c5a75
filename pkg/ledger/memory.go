package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryLedger keeps both ledgers in process memory.
// It implements PendingStore; History returns its HistoryStore view.
type MemoryLedger struct {
	mu      sync.RWMutex
	pending map[Key]PendingOrder
	history []PlanChange
	now     func() time.Time
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		pending: make(map[Key]PendingOrder),
		now:     time.Now,
	}
}

// Get implements PendingStore.Get
func (m *MemoryLedger) Get(ctx context.Context, subscriptionID string, dueDate time.Time) (*PendingOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pending[KeyFor(subscriptionID, dueDate)]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// Save implements PendingStore.Save
func (m *MemoryLedger) Save(ctx context.Context, order *PendingOrder) error {
	if err := validatePending(order); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := order.Key()
	now := m.now()
	if existing, ok := m.pending[key]; ok {
		if existing.Generated() {
			return fmt.Errorf("%w: %s/%s", ErrAlreadyGenerated, key.SubscriptionID, key.DueDate)
		}
		order.CreatedAt = existing.CreatedAt
	} else if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	m.pending[key] = *order
	return nil
}

// ListByDueDate implements PendingStore.ListByDueDate
func (m *MemoryLedger) ListByDueDate(ctx context.Context, dueDate time.Time) ([]*PendingOrder, error) {
	want := DateKey(dueDate)
	return m.listPending(func(k Key) bool { return k.DueDate == want }), nil
}

// List implements PendingStore.List
func (m *MemoryLedger) List(ctx context.Context) ([]*PendingOrder, error) {
	return m.listPending(func(Key) bool { return true }), nil
}

func (m *MemoryLedger) listPending(keep func(Key) bool) []*PendingOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*PendingOrder
	for k, p := range m.pending {
		if keep(k) {
			p := p
			out = append(out, &p)
		}
	}
	sortPending(out)
	return out
}

// History returns the plan-change view of the ledger
func (m *MemoryLedger) History() HistoryStore {
	return memoryHistory{m}
}

type memoryHistory struct {
	m *MemoryLedger
}

func (h memoryHistory) Append(ctx context.Context, change *PlanChange) error {
	if change.ID == "" {
		return fmt.Errorf("%w: plan change id is required", ErrInvalidRecord)
	}
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.m.history = append(h.m.history, *change)
	return nil
}

func (h memoryHistory) List(ctx context.Context) ([]*PlanChange, error) {
	return h.collect(""), nil
}

func (h memoryHistory) ListForUser(ctx context.Context, userID string) ([]*PlanChange, error) {
	return h.collect(userID), nil
}

func (h memoryHistory) collect(userID string) []*PlanChange {
	h.m.mu.RLock()
	defer h.m.mu.RUnlock()

	var out []*PlanChange
	for _, c := range h.m.history {
		if userID == "" || c.UserID == userID {
			c := c
			out = append(out, &c)
		}
	}
	return out
}

// sortPending orders by due date then subscription ID
func sortPending(list []*PendingOrder) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].DueDate.Equal(list[j].DueDate) {
			return list[i].DueDate.Before(list[j].DueDate)
		}
		return list[i].SubscriptionID < list[j].SubscriptionID
	})
}
