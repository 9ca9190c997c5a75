package billing

import (
	"fmt"
	"time"

	"github.com/platinummonkey/subbill/pkg/ledger"
)

// NextBillingCycle returns midnight UTC on the first day of the month after now
func NextBillingCycle(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// OrderID returns the deterministic order ID for a subscription and cycle
func OrderID(subscriptionID string, dueDate time.Time) string {
	return fmt.Sprintf("SUB-%s-%04d-%02d", subscriptionID, dueDate.Year(), int(dueDate.Month()))
}

// LockKey returns the generation lock key for a cycle
func LockKey(dueDate time.Time) string {
	return "billing:generate:" + ledger.DateKey(dueDate)
}
