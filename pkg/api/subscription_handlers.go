package api

import (
	"net/http"

	"github.com/platinummonkey/subbill/pkg/billing"
	"github.com/platinummonkey/subbill/pkg/httputil"
)

// createSubscription handles POST /subscriptions
func (s *Server) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req billing.SubscribeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") || !httputil.RequireNonEmpty(w, req.PlanID, "plan_id") {
		return
	}

	sub, err := s.svc.Subscriber.Subscribe(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sub)
}

// getSubscription handles GET /subscriptions/{id}
func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	sub, err := s.svc.Subscriptions.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// cancelSubscription handles POST /subscriptions/{id}/cancel
func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.svc.Subscriber.Cancel(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.getSubscription(w, r)
}

// setAutoRenew handles PUT /subscriptions/{id}/auto-renew
func (s *Server) setAutoRenew(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req AutoRenewRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := s.svc.Subscriber.SetAutoRenew(r.Context(), id, req.AutoRenew); err != nil {
		writeError(w, r, err)
		return
	}
	s.getSubscription(w, r)
}
