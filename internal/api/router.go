package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"promo-code-engine/internal/observability"
)

// Router exposes the engine. Runs wait on captcha solving and remote
// retries, so the request timeout is generous.
func Router(h *Handler, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Post("/v1/codes", h.AcquireCodes)
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Post("/{caller}/confirm", h.ConfirmSession)
		r.Delete("/{caller}", h.DiscardSession)
	})
	r.Get("/v1/runs/stats", h.RunStats)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
