package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/larder/internal/domain"
)

// Server is the HTTP front of the engine.
type Server struct {
	router *chi.Mux
	http   *http.Server
}

// NewServer builds the router. Operational and stateless endpoints need no
// tenant; anything that reads or writes tenant data sits behind
// RequireTenant.
func NewServer(cfg domain.ServerConfig, deps Dependencies) *Server {
	h := NewHandler(deps)
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		Recover,
		AccessLog(deps.Metrics),
		Trace,
		CORS(cfg.CORSOrigins),
		middleware.Compress(5, "application/json"),
	)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	r.Get("/domains", h.ListDomains)
	r.Post("/forecast", h.Forecast)
	r.Post("/campaigns/predict", h.PredictCampaign)

	r.Group(func(r chi.Router) {
		r.Use(RequireTenant)

		r.Post("/evaluate", h.Evaluate)
		r.Get("/evaluations/{id}", h.GetEvaluation)
		r.Post("/events", h.IngestEvents)

		r.Post("/automate", h.Automate)
		r.Get("/actions", h.ListActions)
		r.Get("/automation/rules", h.ListAutomationRules)
		r.Put("/automation/rules", h.ReloadAutomationRules)
	})

	return &Server{
		router: r,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       seconds(cfg.ReadTimeout, 15),
			WriteTimeout:      seconds(cfg.WriteTimeout, 15),
			IdleTimeout:       2 * time.Minute,
		},
	}
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// Start serves until Shutdown; it returns http.ErrServerClosed then.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}
