// Package httpapi is the thin REST facade spec.md §6 describes: it never
// runs a workflow itself, it only publishes the corresponding broker
// message and reports whether the publish succeeded.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/jude-scai/processor/pkg/broker"
)

// Publisher is the broker surface the trigger facade needs.
type Publisher = broker.Publisher

// NewRouter builds the chi router exposing /trigger/workflow1..5.
func NewRouter(b Publisher, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	h := &handlers{broker: b, logger: logger}

	r.Route("/trigger", func(r chi.Router) {
		r.Post("/workflow1", h.workflow1)
		r.Post("/workflow2", h.workflow2)
		r.Post("/workflow3", h.workflow3)
		r.Post("/workflow4", h.workflow4)
		r.Post("/workflow5", h.workflow5)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("http request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
