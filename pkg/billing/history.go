package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/subbill/pkg/ledger"
	"github.com/platinummonkey/subbill/pkg/observability"
)

// PlanChangeRecorder appends plan-change audit records
type PlanChangeRecorder struct {
	history ledger.HistoryStore
	logger  *observability.Logger
	now     func() time.Time

	mu       sync.Mutex
	lastIDMs map[string]int64
}

// NewPlanChangeRecorder creates a recorder writing to history
func NewPlanChangeRecorder(history ledger.HistoryStore, logger *observability.Logger) *PlanChangeRecorder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &PlanChangeRecorder{
		history:  history,
		logger:   logger,
		now:      time.Now,
		lastIDMs: make(map[string]int64),
	}
}

// RecordPlanChange assigns an ID to change and appends it.
// The input must not carry an ID; classification is the caller's job.
func (r *PlanChangeRecorder) RecordPlanChange(ctx context.Context, change *ledger.PlanChange) (*ledger.PlanChange, error) {
	if err := validateChange(change); err != nil {
		return nil, err
	}

	record := *change
	now := r.now()
	record.ID = r.nextID(record.UserID, now)
	if record.ChangedAt.IsZero() {
		record.ChangedAt = now
	}

	if err := r.history.Append(ctx, &record); err != nil {
		return nil, fmt.Errorf("failed to append plan change: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"change_id":   record.ID,
		"user_id":     record.UserID,
		"change_type": string(record.ChangeType),
	}).Info("plan change recorded")

	return &record, nil
}

// nextID returns chg-{userId}-{unixMillis}, bumping the millisecond if the
// same user already received that value.
func (r *PlanChangeRecorder) nextID(userID string, now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ms := now.UnixMilli()
	if last, ok := r.lastIDMs[userID]; ok && ms <= last {
		ms = last + 1
	}
	r.lastIDMs[userID] = ms
	return fmt.Sprintf("chg-%s-%d", userID, ms)
}

func validateChange(c *ledger.PlanChange) error {
	switch {
	case c == nil:
		return fmt.Errorf("%w: nil change", ErrIncompleteChange)
	case c.ID != "":
		return fmt.Errorf("%w: id is assigned by the recorder", ErrIncompleteChange)
	case c.UserID == "":
		return fmt.Errorf("%w: user id is required", ErrIncompleteChange)
	case c.SubscriptionID == "":
		return fmt.Errorf("%w: subscription id is required", ErrIncompleteChange)
	case c.FromPlanID == "" || c.ToPlanID == "":
		return fmt.Errorf("%w: from and to plans are required", ErrIncompleteChange)
	case c.ChangeType != ledger.ChangeTypeUpgrade && c.ChangeType != ledger.ChangeTypeDowngrade:
		return fmt.Errorf("%w: change type must be upgrade or downgrade", ErrIncompleteChange)
	}
	return nil
}

// GetAllPlanHistory returns every recorded change, unsorted
func (r *PlanChangeRecorder) GetAllPlanHistory(ctx context.Context) []*ledger.PlanChange {
	list, err := r.history.List(ctx)
	if err != nil {
		r.logger.WithError(err).Error("failed to read plan history")
		return []*ledger.PlanChange{}
	}
	if list == nil {
		return []*ledger.PlanChange{}
	}
	return list
}

// GetPlanHistoryForUser returns a user's recorded changes, unsorted
func (r *PlanChangeRecorder) GetPlanHistoryForUser(ctx context.Context, userID string) []*ledger.PlanChange {
	list, err := r.history.ListForUser(ctx, userID)
	if err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Error("failed to read plan history")
		return []*ledger.PlanChange{}
	}
	if list == nil {
		return []*ledger.PlanChange{}
	}
	return list
}
