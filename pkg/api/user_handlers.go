package api

import (
	"net/http"

	"github.com/platinummonkey/subbill/pkg/httputil"
	"github.com/platinummonkey/subbill/pkg/users"
)

// saveUser handles PUT /users/{id}
func (s *Server) saveUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var user users.User
	if !httputil.ParseJSONOrError(w, r, &user) {
		return
	}
	if user.ID == "" {
		user.ID = id
	}
	if user.ID != id {
		httputil.WriteBadRequest(w, "user id does not match path")
		return
	}

	if err := s.svc.Users.SaveUser(r.Context(), &user); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// getUserSubscription handles GET /users/{id}/subscription
func (s *Server) getUserSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	sub, err := s.svc.Subscriptions.GetActiveForUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sub == nil {
		httputil.WriteNotFound(w, "user has no active subscription")
		return
	}
	httputil.WriteSuccess(w, sub)
}

// changePlan handles POST /users/{id}/plan-change
func (s *Server) changePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req PlanChangeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PlanID, "plan_id") {
		return
	}

	change, err := s.svc.Changer.ChangePlan(r.Context(), userID, req.PlanID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, change)
}
