package api

import (
	"net/http"

	"github.com/platinummonkey/subbill/pkg/httputil"
	"github.com/platinummonkey/subbill/pkg/plans"
)

// listPlans handles GET /plans. Hidden and deprecated plans are included
// for admins; ?visible=true restricts to plans offered in the storefront.
func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	all, err := s.svc.Catalog.GetAllPlans(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	if httputil.ParseQueryString(r, "visible", "") == "true" {
		visible := make([]*plans.Plan, 0, len(all))
		for _, p := range all {
			if p.Available() && p.Visibility != plans.VisibilityHidden {
				visible = append(visible, p)
			}
		}
		all = visible
	}
	httputil.WriteSuccess(w, all)
}

// getPlan handles GET /plans/{id}
func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	plan, err := s.svc.Catalog.GetPlanByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

// createPlan handles POST /plans
func (s *Server) createPlan(w http.ResponseWriter, r *http.Request) {
	var plan plans.Plan
	if !httputil.ParseJSONOrError(w, r, &plan) {
		return
	}
	if err := s.svc.PlanAdmin.SavePlan(r.Context(), &plan); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, plan)
}

// updatePlan handles PUT /plans/{id}
func (s *Server) updatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var plan plans.Plan
	if !httputil.ParseJSONOrError(w, r, &plan) {
		return
	}
	if err := s.svc.PlanAdmin.UpdatePlan(r.Context(), id, &plan); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

// deprecatePlan handles POST /plans/{id}/deprecate
func (s *Server) deprecatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.svc.PlanAdmin.DeprecatePlan(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.getPlan(w, r)
}
