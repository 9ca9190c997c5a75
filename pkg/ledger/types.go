package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/platinummonkey/subbill/pkg/plans"
)

var (
	// ErrNotFound is returned when no record exists for a key
	ErrNotFound = errors.New("ledger record not found")
	// ErrAlreadyGenerated is returned when overwriting a generated record
	ErrAlreadyGenerated = errors.New("order already generated for cycle")
	// ErrInvalidRecord is returned when a record is structurally incomplete
	ErrInvalidRecord = errors.New("invalid ledger record")
)

// DateLayout is the canonical due-date format
const DateLayout = "2006-01-02"

// PendingStatus is the outcome of a generation attempt
type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "pending"
	PendingStatusGenerated PendingStatus = "generated"
	PendingStatusFailed    PendingStatus = "failed"
)

// PendingOrder records a billing attempt for one subscription and cycle
type PendingOrder struct {
	SubscriptionID string        `json:"subscription_id"`
	UserID         string        `json:"user_id"`
	PlanID         string        `json:"plan_id"`
	PlanName       string        `json:"plan_name"`
	AmountCents    int64         `json:"amount_cents"`
	Term           plans.Term    `json:"term"`
	DueDate        time.Time     `json:"due_date"`
	Status         PendingStatus `json:"status"`
	OrderID        string        `json:"order_id,omitempty"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Key identifies a pending order
type Key struct {
	SubscriptionID string
	DueDate        string
}

// KeyFor builds the ledger key for a subscription and due date
func KeyFor(subscriptionID string, dueDate time.Time) Key {
	return Key{SubscriptionID: subscriptionID, DueDate: DateKey(dueDate)}
}

// Key returns the record's ledger key
func (p *PendingOrder) Key() Key {
	return KeyFor(p.SubscriptionID, p.DueDate)
}

// Generated reports whether the record is final
func (p *PendingOrder) Generated() bool {
	return p.Status == PendingStatusGenerated
}

// DateKey formats t as a UTC calendar date
func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

func validatePending(p *PendingOrder) error {
	if p.SubscriptionID == "" || p.DueDate.IsZero() {
		return ErrInvalidRecord
	}
	switch p.Status {
	case PendingStatusPending, PendingStatusGenerated, PendingStatusFailed:
		return nil
	}
	return ErrInvalidRecord
}

// ChangeType classifies a plan change
type ChangeType string

const (
	ChangeTypeUpgrade   ChangeType = "upgrade"
	ChangeTypeDowngrade ChangeType = "downgrade"
)

// PriceBasis selects which plan price drives classification and the audit record
type PriceBasis string

const (
	// PriceBasisTerm uses the price matching the subscription's term
	PriceBasisTerm PriceBasis = "term"
	// PriceBasisMonthly always uses monthly prices
	PriceBasisMonthly PriceBasis = "monthly"
)

// Valid reports whether b is a known basis
func (b PriceBasis) Valid() bool {
	return b == PriceBasisTerm || b == PriceBasisMonthly
}

// PlanChange is an immutable plan-change audit record
type PlanChange struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	SubscriptionID     string     `json:"subscription_id"`
	FromPlanID         string     `json:"from_plan_id"`
	FromPlanName       string     `json:"from_plan_name"`
	ToPlanID           string     `json:"to_plan_id"`
	ToPlanName         string     `json:"to_plan_name"`
	ChangeType         ChangeType `json:"change_type"`
	ChangedAt          time.Time  `json:"changed_at"`
	EffectiveAt        time.Time  `json:"effective_at"`
	PreviousPriceCents int64      `json:"previous_price_cents"`
	NewPriceCents      int64      `json:"new_price_cents"`
	Term               plans.Term `json:"term"`
	PriceBasis         PriceBasis `json:"price_basis"`
}

// SortByChangedAtDesc orders changes newest first
func SortByChangedAtDesc(list []*PlanChange) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].ChangedAt.After(list[j].ChangedAt)
	})
}

// PendingStore persists pending-order records
type PendingStore interface {
	// Get returns ErrNotFound when no record exists for the key
	Get(ctx context.Context, subscriptionID string, dueDate time.Time) (*PendingOrder, error)
	// Save inserts or replaces a record; ErrAlreadyGenerated if the stored one is generated
	Save(ctx context.Context, order *PendingOrder) error
	ListByDueDate(ctx context.Context, dueDate time.Time) ([]*PendingOrder, error)
	List(ctx context.Context) ([]*PendingOrder, error)
}

// HistoryStore persists plan-change records
type HistoryStore interface {
	Append(ctx context.Context, change *PlanChange) error
	List(ctx context.Context) ([]*PlanChange, error)
	ListForUser(ctx context.Context, userID string) ([]*PlanChange, error)
}
