package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siraevrus/stockyard/internal/observability"
	"github.com/siraevrus/stockyard/internal/products"
	"github.com/siraevrus/stockyard/internal/shipments"
	"github.com/siraevrus/stockyard/internal/stock"
	"github.com/siraevrus/stockyard/internal/templates"
	"github.com/siraevrus/stockyard/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Pool             *pgxpool.Pool
	StockHandler     *stock.Handler
	TemplatesHandler *templates.Handler
	ProductsHandler  *products.Handler
	ShipmentsHandler *shipments.Handler
	JobsHandler      *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
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

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Pool.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded","postgres":"unreachable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.StockHandler != nil {
			api.Route("/stock", params.StockHandler.MountRoutes)
		}
		if params.TemplatesHandler != nil {
			api.Route("/templates", params.TemplatesHandler.MountRoutes)
		}
		if params.ProductsHandler != nil {
			api.Route("/products", params.ProductsHandler.MountRoutes)
		}
		if params.ShipmentsHandler != nil {
			api.Route("/shipments", params.ShipmentsHandler.MountRoutes)
		}
		if params.JobsHandler != nil {
			api.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	return r
}
