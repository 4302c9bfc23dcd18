package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/tinyman/internal/httpserver/deps"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type group struct {
	name string
	reg  Registrar
	mws  []Middleware
}

var registry []group

// Register adds a named route group with optional middlewares of its own.
func Register(name string, reg Registrar, mws ...Middleware) {
	registry = append(registry, group{name: name, reg: reg, mws: mws})
}

// Groups lists the registered group names in registration order.
func Groups() []string {
	names := make([]string, 0, len(registry))
	for _, g := range registry {
		names = append(names, g.name)
	}
	return names
}

// RegisterAll mounts every group on r. Called once when the router is built.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, g := range registry {
		r.Group(func(sub chi.Router) {
			sub.Use(g.mws...)
			g.reg(sub, d)
		})
	}
}
