// Package api exposes the judge over HTTP. Handlers parse and render;
// all semantics live behind the sudoapi surface.
package api

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quarkoj/quark/sudoapi"
)

type API struct {
	base *sudoapi.BaseAPI
}

func New(base *sudoapi.BaseAPI) *API {
	return &API{base: base}
}

// Handler builds the full route tree.
func (s *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.postJob)
		r.Get("/", s.getJobs)
		r.Get("/{id}", s.getJob)
		r.Put("/{id}", s.putJob)
		r.Delete("/{id}", s.deleteJob)
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/", s.postUser)
		r.Get("/", s.getUsers)
	})

	r.Route("/contests", func(r chi.Router) {
		r.Post("/", s.postContest)
		r.Get("/", s.getContests)
		r.Get("/{id}", s.getContest)
		r.Get("/{id}/ranklist", s.getRanklist)
	})

	r.Handle("/metrics", promhttp.Handler())

	// Immediate shutdown hook for the automated test harness.
	r.Post("/internal/exit", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Shutdown as requested")
		os.Exit(0)
	})

	return r
}
