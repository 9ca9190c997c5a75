package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/platinummonkey/subbill/pkg/orders"
)

// OrderStore implements orders.Sink
type OrderStore struct {
	db *DB
}

// NewOrderStore creates an OrderStore
func NewOrderStore(db *DB) *OrderStore {
	return &OrderStore{db: db}
}

// Create implements orders.Sink.Create
func (s *OrderStore) Create(ctx context.Context, order *orders.Order) error {
	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}

	query := s.db.rebind(`
		INSERT INTO orders (id, user_id, subscription_id, order_type, status, total_cents, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = s.db.db.ExecContext(ctx, query,
		order.ID, order.UserID, nullString(order.SubscriptionID), string(order.OrderType),
		string(order.Status), order.TotalCents, string(body), order.CreatedAt.UTC())
	if isUniqueViolation(err) {
		s.db.observe("create_order", nil)
		return fmt.Errorf("%w: %s", orders.ErrDuplicateOrder, order.ID)
	}
	if err != nil {
		return s.db.observe("create_order", fmt.Errorf("failed to create order: %w", err))
	}
	s.db.observe("create_order", nil)
	return nil
}

// Get implements orders.Sink.Get
func (s *OrderStore) Get(ctx context.Context, id string) (*orders.Order, error) {
	query := s.db.rebind(`SELECT body FROM orders WHERE id = ?`)

	var body string
	err := s.db.db.QueryRowContext(ctx, query, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		s.db.observe("get_order", nil)
		return nil, fmt.Errorf("%w: %s", orders.ErrNotFound, id)
	}
	if err != nil {
		return nil, s.db.observe("get_order", fmt.Errorf("failed to get order: %w", err))
	}
	s.db.observe("get_order", nil)
	return decodeOrder(body)
}

// GetAll implements orders.Sink.GetAll
func (s *OrderStore) GetAll(ctx context.Context) ([]*orders.Order, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT body FROM orders ORDER BY created_at, id`)
	if err != nil {
		return nil, s.db.observe("list_orders", fmt.Errorf("failed to list orders: %w", err))
	}
	defer rows.Close()

	list := []*orders.Order{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, s.db.observe("list_orders", fmt.Errorf("failed to scan order: %w", err))
		}
		o, err := decodeOrder(body)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return nil, s.db.observe("list_orders", fmt.Errorf("failed to iterate orders: %w", err))
	}
	s.db.observe("list_orders", nil)
	return list, nil
}

func decodeOrder(body string) (*orders.Order, error) {
	var o orders.Order
	if err := json.Unmarshal([]byte(body), &o); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	return &o, nil
}
