// Package api exposes the billing operations over an HTTP admin API.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/subbill/pkg/billing"
	"github.com/platinummonkey/subbill/pkg/httputil"
	"github.com/platinummonkey/subbill/pkg/observability"
	"github.com/platinummonkey/subbill/pkg/orders"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/platinummonkey/subbill/pkg/subscriptions"
	"github.com/platinummonkey/subbill/pkg/users"
)

const maxBodyBytes = 1 << 20

// Services are the operations served by the API
type Services struct {
	Generator     *billing.Generator
	Recorder      *billing.PlanChangeRecorder
	Changer       *billing.PlanChanger
	Renewer       *billing.Renewer
	PlanAdmin     *billing.PlanAdmin
	Subscriber    *billing.SubscriptionManager
	Catalog       plans.Catalog
	Subscriptions subscriptions.Store
	Users         users.Directory
	Orders        orders.Sink
}

// Server represents the admin API server
type Server struct {
	svc     Services
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
	now     func() time.Time
}

// ServerOption configures a Server
type ServerOption func(*serverOptions)

type serverOptions struct {
	middleware []func(http.Handler) http.Handler
}

// WithMiddleware runs mw after request logging and panic recovery,
// before any handler
func WithMiddleware(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(o *serverOptions) { o.middleware = append(o.middleware, mw...) }
}

// NewServer creates the API server. metrics may be nil.
func NewServer(svc Services, logger *observability.Logger, metrics *observability.Metrics, opts ...ServerOption) *Server {
	var options serverOptions
	for _, opt := range opts {
		opt(&options)
	}

	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Server{
		svc:    svc,
		router: mux.NewRouter(),
		logger: logger,
		now:    time.Now,
	}
	s.setupRoutes()

	middleware := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
	}
	if metrics != nil {
		middleware = append(middleware, observability.HTTPMetricsMiddleware(metrics, s.routeTemplate))
	}
	middleware = append(middleware, options.middleware...)
	middleware = append(middleware,
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)

	s.handler = otelhttp.NewHandler(httputil.Chain(middleware...)(s.router), "subbill-api")
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Billing runs
	s.router.HandleFunc("/billing/generate", s.generateOrders).Methods(http.MethodPost)
	s.router.HandleFunc("/billing/pending", s.pendingOrders).Methods(http.MethodGet)
	s.router.HandleFunc("/billing/renew", s.renewDue).Methods(http.MethodPost)
	s.router.HandleFunc("/billing/plan-history", s.allPlanHistory).Methods(http.MethodGet)

	// Users
	s.router.HandleFunc("/users/{id}", s.saveUser).Methods(http.MethodPut)
	s.router.HandleFunc("/users/{id}/subscription", s.getUserSubscription).Methods(http.MethodGet)
	s.router.HandleFunc("/users/{id}/plan-change", s.changePlan).Methods(http.MethodPost)
	s.router.HandleFunc("/users/{id}/plan-history", s.userPlanHistory).Methods(http.MethodGet)

	// Subscriptions
	s.router.HandleFunc("/subscriptions", s.createSubscription).Methods(http.MethodPost)
	s.router.HandleFunc("/subscriptions/{id}", s.getSubscription).Methods(http.MethodGet)
	s.router.HandleFunc("/subscriptions/{id}/cancel", s.cancelSubscription).Methods(http.MethodPost)
	s.router.HandleFunc("/subscriptions/{id}/auto-renew", s.setAutoRenew).Methods(http.MethodPut)

	// Plans
	s.router.HandleFunc("/plans", s.listPlans).Methods(http.MethodGet)
	s.router.HandleFunc("/plans", s.createPlan).Methods(http.MethodPost)
	s.router.HandleFunc("/plans/{id}", s.getPlan).Methods(http.MethodGet)
	s.router.HandleFunc("/plans/{id}", s.updatePlan).Methods(http.MethodPut)
	s.router.HandleFunc("/plans/{id}/deprecate", s.deprecatePlan).Methods(http.MethodPost)

	// Orders
	s.router.HandleFunc("/orders", s.listOrders).Methods(http.MethodGet)
	s.router.HandleFunc("/orders/{id}", s.getOrder).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routeTemplate labels metrics with the matched route template
func (s *Server) routeTemplate(r *http.Request) string {
	var match mux.RouteMatch
	if s.router.Match(r, &match) && match.Route != nil {
		if tmpl, err := match.Route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
