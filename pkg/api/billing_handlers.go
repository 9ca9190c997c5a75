package api

import (
	"context"
	"net/http"
	"slices"

	"github.com/platinummonkey/subbill/pkg/httputil"
	"github.com/platinummonkey/subbill/pkg/ledger"
)

// generateOrders handles POST /billing/generate. The run is detached from
// the request so a disconnecting client cannot cut it short.
func (s *Server) generateOrders(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	result, err := s.svc.Generator.GenerateMonthlyOrders(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, newGenerateResponse(result))
}

// pendingOrders handles GET /billing/pending
func (s *Server) pendingOrders(w http.ResponseWriter, r *http.Request) {
	pending, err := s.svc.Generator.GetPendingOrdersForNextMonth(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pending == nil {
		pending = []*ledger.PendingOrder{}
	}
	httputil.WriteSuccess(w, pending)
}

// renewDue handles POST /billing/renew
func (s *Server) renewDue(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Renewer.RenewDue(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// allPlanHistory handles GET /billing/plan-history, newest first
func (s *Server) allPlanHistory(w http.ResponseWriter, r *http.Request) {
	history := s.svc.Recorder.GetAllPlanHistory(r.Context())
	writeHistory(w, r, history)
}

// userPlanHistory handles GET /users/{id}/plan-history, newest first
func (s *Server) userPlanHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	history := s.svc.Recorder.GetPlanHistoryForUser(r.Context(), userID)
	writeHistory(w, r, history)
}

// writeHistory sorts newest first unless ?order=asc
func writeHistory(w http.ResponseWriter, r *http.Request, history []*ledger.PlanChange) {
	if history == nil {
		history = []*ledger.PlanChange{}
	}
	ledger.SortByChangedAtDesc(history)
	if httputil.ParseQueryString(r, "order", "desc") == "asc" {
		slices.Reverse(history)
	}
	httputil.WriteSuccess(w, history)
}

// listOrders handles GET /orders
func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Orders.GetAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// getOrder handles GET /orders/{id}
func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	order, err := s.svc.Orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, order)
}
