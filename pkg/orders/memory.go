package orders

import (
	"context"
	"fmt"
	"sync"
)

// MemorySink is an in-memory Sink preserving insertion order
type MemorySink struct {
	mu     sync.RWMutex
	orders []*Order
	byID   map[string]int

	// FailOn, when set, is consulted before each Create and its error returned
	FailOn func(order *Order) error
}

// NewMemorySink creates an empty sink
func NewMemorySink() *MemorySink {
	return &MemorySink{byID: make(map[string]int)}
}

// Create implements Sink.Create
func (s *MemorySink) Create(ctx context.Context, order *Order) error {
	if s.FailOn != nil {
		if err := s.FailOn(order); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[order.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, order.ID)
	}
	s.byID[order.ID] = len(s.orders)
	s.orders = append(s.orders, order.Clone())
	return nil
}

// GetAll implements Sink.GetAll
func (s *MemorySink) GetAll(ctx context.Context) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Order, len(s.orders))
	for i, o := range s.orders {
		out[i] = o.Clone()
	}
	return out, nil
}

// Get implements Sink.Get
func (s *MemorySink) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.orders[i].Clone(), nil
}
