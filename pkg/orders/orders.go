// Package orders defines the order shape produced by subscription billing
// and the sink that persists orders.
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/subbill/pkg/users"
)

var (
	// ErrNotFound is returned when an order ID is unknown
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateOrder is returned when an order ID already exists
	ErrDuplicateOrder = errors.New("order already exists")
)

// Status represents the lifecycle state of an order
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusCanceled Status = "canceled"
)

// Type distinguishes subscription orders from storefront orders
type Type string

const (
	TypeStandard     Type = "standard"
	TypeSubscription Type = "subscription"
)

// LineItem is a single order line
type LineItem struct {
	SKU            string `json:"sku"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

// Customer is the user snapshot taken when the order is created
type Customer struct {
	Name            string        `json:"name"`
	Email           string        `json:"email"`
	BillingAddress  users.Address `json:"billing_address"`
	ShippingAddress users.Address `json:"shipping_address"`
}

// Payment describes how the order will be settled
type Payment struct {
	Method string `json:"method"`
	Status string `json:"status"`
}

// Order is a persisted order
type Order struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Items          []LineItem `json:"items"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	TaxCents       int64      `json:"tax_cents"`
	ShippingCents  int64      `json:"shipping_cents"`
	TotalCents     int64      `json:"total_cents"`
	Status         Status     `json:"status"`
	Customer       Customer   `json:"customer"`
	Payment        Payment    `json:"payment"`
	OrderType      Type       `json:"order_type"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CustomerFromUser snapshots a user onto an order
func CustomerFromUser(u *users.User) Customer {
	return Customer{
		Name:            u.Name,
		Email:           u.Email,
		BillingAddress:  u.BillingAddress,
		ShippingAddress: u.ShippingAddress,
	}
}

// Clone returns a deep copy
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	return &c
}

// Sink persists orders
type Sink interface {
	Create(ctx context.Context, order *Order) error
	GetAll(ctx context.Context) ([]*Order, error)
	// Get returns ErrNotFound for unknown IDs
	Get(ctx context.Context, id string) (*Order, error)
}
