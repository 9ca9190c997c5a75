package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/platinummonkey/subbill/pkg/users"
)

// UserStore implements users.Directory
type UserStore struct {
	db *DB
}

// NewUserStore creates a UserStore
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// GetUserByID implements users.Directory.GetUserByID
func (s *UserStore) GetUserByID(ctx context.Context, id string) (*users.User, error) {
	query := s.db.rebind(`SELECT id, name, email, billing_address, shipping_address FROM users WHERE id = ?`)

	var u users.User
	var billing, shipping string
	err := s.db.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Name, &u.Email, &billing, &shipping)
	if errors.Is(err, sql.ErrNoRows) {
		s.db.observe("get_user", nil)
		return nil, nil
	}
	if err != nil {
		return nil, s.db.observe("get_user", fmt.Errorf("failed to get user: %w", err))
	}
	s.db.observe("get_user", nil)

	if err := json.Unmarshal([]byte(billing), &u.BillingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode billing address: %w", err)
	}
	if err := json.Unmarshal([]byte(shipping), &u.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	return &u, nil
}

// SaveUser implements users.Directory.SaveUser
func (s *UserStore) SaveUser(ctx context.Context, user *users.User) error {
	if user.ID == "" {
		return fmt.Errorf("%w: id is required", users.ErrInvalidUser)
	}

	billing, err := json.Marshal(user.BillingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode billing address: %w", err)
	}
	shipping, err := json.Marshal(user.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}

	query := s.db.rebind(`
		INSERT INTO users (id, name, email, billing_address, shipping_address)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			billing_address = excluded.billing_address,
			shipping_address = excluded.shipping_address
	`)
	_, err = s.db.db.ExecContext(ctx, query, user.ID, user.Name, user.Email, string(billing), string(shipping))
	if err != nil {
		return s.db.observe("save_user", fmt.Errorf("failed to save user: %w", err))
	}
	s.db.observe("save_user", nil)
	return nil
}
