package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/tinyman/internal/httpserver/deps"
	"github.com/MrSnakeDoc/tinyman/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/tinyman/internal/httpserver/mw"
)

func init() { Register("api", registerEntries) }

// registerEntries exposes the shared state. Probes stay outside the CIDR
// allow-list so orchestrators can always reach them.
func registerEntries(r chi.Router, d deps.Deps) {
	r.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))

	r.Get("/api/entries", handlers.Entries(d))
	r.With(mw.RateLimit(mw.RateLimitConfig{
		RequestsPerSecond: d.SweepLimit,
		Burst:             1,
		TrustProxy:        d.TrustProxy,
	})).Post("/api/sweep", handlers.Sweep(d))
}
