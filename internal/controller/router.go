package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/campaign-batch-sender/internal/handler"
)

type RouterConfig struct {
	Campaigns *CampaignController
	Reads     *handler.CampaignHandler
	Health    http.Handler
	Auth      TokenAuth
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Method(http.MethodGet, "/health", cfg.Health)
	}

	r.Route("/campaigns", func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Get("/", cfg.Reads.ListCampaigns)
		r.Post("/", cfg.Campaigns.CreateDraft)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", cfg.Reads.GetCampaign)
			r.Put("/", cfg.Campaigns.UpdateDraft)
			r.Delete("/", cfg.Campaigns.DeleteDraft)
			r.Get("/failures", cfg.Reads.ListFailures)

			r.Post("/launch", cfg.Campaigns.Launch)
			r.Post("/initiate", cfg.Campaigns.Initiate)
			r.Post("/process", cfg.Campaigns.ProcessBatch)
			r.Post("/retry", cfg.Campaigns.ProcessRetryBatch)
			r.Post("/pause", cfg.Campaigns.Pause)
			r.Post("/resume", cfg.Campaigns.Resume)
		})
	})

	return r
}
