package api

import (
	"github.com/platinummonkey/subbill/pkg/billing"
	"github.com/platinummonkey/subbill/pkg/ledger"
	"github.com/platinummonkey/subbill/pkg/orders"
)

// GenerateResponse is returned by POST /billing/generate
type GenerateResponse struct {
	Success  int               `json:"success"`
	Failed   int               `json:"failed"`
	Skipped  int               `json:"skipped"`
	DueDate  string            `json:"due_date"`
	Orders   []*orders.Order   `json:"orders"`
	Failures []billing.Failure `json:"failures,omitempty"`
}

func newGenerateResponse(r *billing.GenerationResult) GenerateResponse {
	resp := GenerateResponse{
		Success:  r.Success,
		Failed:   r.Failed,
		Skipped:  r.Skipped,
		DueDate:  ledger.DateKey(r.DueDate),
		Orders:   r.Orders,
		Failures: r.Failures,
	}
	if resp.Orders == nil {
		resp.Orders = []*orders.Order{}
	}
	return resp
}

// PlanChangeRequest is the body of POST /users/{id}/plan-change
type PlanChangeRequest struct {
	PlanID string `json:"plan_id"`
}

// AutoRenewRequest is the body of PUT /subscriptions/{id}/auto-renew
type AutoRenewRequest struct {
	AutoRenew bool `json:"auto_renew"`
}
