/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address from proxy headers
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the portal frontend
  5. Authenticate:  Bearer token -> actor
  6. RequestLogger: One zap line per request

ROUTE GROUPS:
  /api/v1/leaves/*      Leave workflow and queries
  /api/v1/employees/*   Balances, adjustments, directory
  /api/v1/audit         Audit events (admin)
  /api/v1/categories    Reference data
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	JWTSecret   string
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(Authenticate(opts.JWTSecret, h.logger))
	r.Use(RequestLogger(h.logger))

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/leaves", func(r chi.Router) {
			r.Post("/", h.SubmitLeave)
			r.Get("/", h.ListLeaves)
			r.Get("/{id}", h.GetLeave)
			r.Post("/{id}/decision", h.DecideLeave)
			r.Post("/{id}/cancel", h.CancelLeave)
		})

		r.Route("/employees", func(r chi.Router) {
			if h.Directory != nil {
				r.Get("/", h.ListEmployees)
				r.Post("/", h.CreateEmployee)
				r.Get("/{id}", h.GetEmployee)
			}
			r.Get("/{id}/balance", h.GetBalance)
			r.Put("/{id}/allocations/{year}/{category}", h.AdjustAllocation)
		})

		if h.Audit != nil {
			r.Get("/audit", h.ListAudit)
		}

		r.Get("/categories", h.ListCategories)
	})

	return r
}
