package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	closinghttp "github.com/atlasfm/atlasfm/internal/closing/http"
	facilityhttp "github.com/atlasfm/atlasfm/internal/facility/http"
	ledgerhttp "github.com/atlasfm/atlasfm/internal/ledger/http"
	"github.com/atlasfm/atlasfm/internal/observability"
	"github.com/atlasfm/atlasfm/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	FacilityHandler  *facilityhttp.Handler
	LedgerHandler    *ledgerhttp.Handler
	InventoryHandler *closinghttp.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router for the operational surface.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.JobHandler != nil {
		r.Route("/jobs", func(jr chi.Router) {
			params.JobHandler.MountRoutes(jr)
		})
	}

	if params.FacilityHandler != nil {
		r.Route("/facilities", func(fr chi.Router) {
			params.FacilityHandler.MountRoutes(fr)
		})
	}

	if params.LedgerHandler != nil {
		r.Route("/transactions", func(tr chi.Router) {
			params.LedgerHandler.MountRoutes(tr)
		})
	}

	if params.InventoryHandler != nil {
		r.Route("/inventory", func(ir chi.Router) {
			params.InventoryHandler.MountRoutes(ir)
		})
	}

	return r
}
