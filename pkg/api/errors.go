package api

import (
	"net/http"

	"github.com/platinummonkey/subbill/pkg/billing"
	"github.com/platinummonkey/subbill/pkg/httputil"
	"github.com/platinummonkey/subbill/pkg/observability"
	"github.com/platinummonkey/subbill/pkg/orders"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/platinummonkey/subbill/pkg/subscriptions"
	"github.com/platinummonkey/subbill/pkg/users"
)

var errorStatuses = []httputil.StatusMapping{
	{Err: plans.ErrPlanNotFound, Status: http.StatusNotFound},
	{Err: subscriptions.ErrNotFound, Status: http.StatusNotFound},
	{Err: orders.ErrNotFound, Status: http.StatusNotFound},
	{Err: billing.ErrNoActiveSubscription, Status: http.StatusNotFound},
	{Err: billing.ErrUserNotFound, Status: http.StatusNotFound},

	{Err: billing.ErrGenerationInProgress, Status: http.StatusConflict},
	{Err: billing.ErrLeaseLost, Status: http.StatusConflict},
	{Err: billing.ErrSamePlan, Status: http.StatusConflict},
	{Err: billing.ErrChangeAlreadyScheduled, Status: http.StatusConflict},
	{Err: billing.ErrPlanInUse, Status: http.StatusConflict},
	{Err: subscriptions.ErrActiveExists, Status: http.StatusConflict},
	{Err: subscriptions.ErrNotActive, Status: http.StatusConflict},

	{Err: billing.ErrPlanUnavailable, Status: http.StatusBadRequest},
	{Err: billing.ErrIncompleteChange, Status: http.StatusBadRequest},
	{Err: plans.ErrInvalidPlan, Status: http.StatusBadRequest},
	{Err: subscriptions.ErrInvalidSubscription, Status: http.StatusBadRequest},
	{Err: users.ErrInvalidUser, Status: http.StatusBadRequest},
}

// writeError maps err to a status and logs server-side failures
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if status := httputil.WriteMappedError(w, err, errorStatuses); status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
	}
}
