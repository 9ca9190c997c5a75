// Package users is the user directory consulted for billing snapshots.
package users

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInvalidUser is returned when a user fails validation
var ErrInvalidUser = errors.New("invalid user")

// Address is a postal address
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// User holds the fields copied onto generated orders
type User struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Email           string  `json:"email"`
	BillingAddress  Address `json:"billing_address"`
	ShippingAddress Address `json:"shipping_address"`
}

// Directory looks up users
type Directory interface {
	// GetUserByID returns nil, nil when the user does not exist
	GetUserByID(ctx context.Context, id string) (*User, error)
	// SaveUser creates or replaces a user
	SaveUser(ctx context.Context, user *User) error
}

// MemoryDirectory is an in-memory Directory
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryDirectory creates a directory holding the given users
func NewMemoryDirectory(initial ...*User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User)}
	for _, u := range initial {
		d.users[u.ID] = *u
	}
	return d
}

// GetUserByID implements Directory.GetUserByID
func (d *MemoryDirectory) GetUserByID(ctx context.Context, id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// SaveUser implements Directory.SaveUser
func (d *MemoryDirectory) SaveUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidUser)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = *user
	return nil
}

// Delete removes a user, simulating an account closed between cycles
func (d *MemoryDirectory) Delete(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, id)
}

// List returns every user ordered by ID
func (d *MemoryDirectory) List() []*User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*User, 0, len(d.users))
	for _, u := range d.users {
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
