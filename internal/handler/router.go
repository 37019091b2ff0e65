package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/campaign-lifecycle/internal/controller"
)

// NewRouter wires the operator API. metricsHandler is mounted at /metrics
// when non-nil.
func NewRouter(campaigns *controller.CampaignController, budget *RateBudgetHandler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Campaign routes
	r.Post("/campaigns", campaigns.CreateCampaign)
	r.Get("/campaigns/{id}/state", campaigns.GetState)
	r.Post("/campaigns/{id}/resume", campaigns.ResumeCampaign)
	r.Post("/campaigns/{id}/close", campaigns.CloseCampaign)

	if budget != nil {
		r.Get("/rate-budget", budget.GetRateBudget)
	}
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	return r
}
