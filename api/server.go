/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

AUTHORIZATION TIERS (see auth.go):
  public:             /api/health
  service key:        /api/orders
  manager or service: /api/reminders/evaluate
  manager:            /api/reminders/*, /api/threads/*, /api/scenarios/*
  any signed-in user: /api/employees/{id}/notifications, push-tokens,
                      /api/notifications/{id}/read

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Middleware implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Service-Key"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Machine callers (ordering system)
		r.Group(func(r chi.Router) {
			r.Use(h.Auth.RequireService)
			r.Post("/orders", h.RecordOrder)
		})

		// Cron or manager
		r.Group(func(r chi.Router) {
			r.Use(h.Auth.RequireManagerOrService)
			r.Post("/reminders/evaluate", h.EvaluatePass)
		})

		// Manager console
		r.Group(func(r chi.Router) {
			r.Use(h.Auth.RequireManager)

			r.Route("/reminders", func(r chi.Router) {
				r.Post("/send", h.SendReminder)
				r.Get("/overview", h.GetOverview)
				r.Get("/settings", h.GetSettings)
				r.Put("/settings", h.UpdateSettings)

				r.Route("/rules", func(r chi.Router) {
					r.Get("/", h.ListRules)
					r.Post("/", h.UpsertRule)
					r.Delete("/{id}", h.DeleteRule)
				})
			})

			r.Get("/threads/{id}/events", h.ListThreadEvents)

			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		})

		// Any signed-in profile (ownership enforced in handlers)
		r.Group(func(r chi.Router) {
			r.Use(h.Auth.RequireUser)
			r.Get("/employees/{id}/notifications", h.ListNotifications)
			r.Post("/employees/{id}/push-tokens", h.RegisterPushToken)
			r.Post("/notifications/{id}/read", h.MarkNotificationRead)
		})
	})

	// The mobile app is served elsewhere; the root just points at the API.
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Reminder Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Reminder Engine API</h1>
<p>Employee order reminder service. All endpoints require credentials; see the README.</p>
<h2>API Endpoints</h2>
<ul>
<li><code>POST /api/reminders/send</code> - Send a manual reminder</li>
<li><code>GET /api/reminders/overview</code> - Manager overview</li>
<li><code>POST /api/reminders/evaluate</code> - Run a rule pass</li>
<li><code>GET /api/reminders/rules</code> - Recurring rules</li>
<li><a href="/api/health">/api/health</a> - Liveness</li>
</ul>
</body>
</html>`))
	})

	return r
}
