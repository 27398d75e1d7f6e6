package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/othala/internal/metrics"
	"github.com/starford/othala/internal/remotestorage"
	"github.com/starford/othala/internal/sse"
)

// NewRouter wires the storage API. When authEnabled is false all routes are
// open; otherwise every non-public request needs a bearer token whose scopes
// cover the addressed module.
func NewRouter(svc *remotestorage.Service, stats *metrics.ServerMetrics, broker *sse.Broker, authEnabled bool, secret string) chi.Router {
	h := NewHandler(svc, stats, broker)

	r := chi.NewRouter()
	r.Route("/storage", func(r chi.Router) {
		r.Use(ScopeAuth(authEnabled, secret))
		r.Get("/*", h.Get)
		r.Head("/*", h.Get)
		r.Put("/*", h.Put)
		r.Delete("/*", h.Delete)
	})
	r.With(RequireUser(authEnabled, secret, "/usage/")).Get("/usage/{user}", h.Usage)
	if broker != nil {
		r.With(RequireToken(authEnabled, secret)).Get("/events", http.HandlerFunc(broker.ServeHTTP))
	}
	return r
}
