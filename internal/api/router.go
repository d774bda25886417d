package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type RouterConfig struct {
	// SubmitRate is the sustained number of searches accepted per second.
	SubmitRate     float64
	SubmitBurst    int
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Registry is served on /metrics when set.
	Registry *prometheus.Registry
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:*", "https://localhost:*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	if cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	submit := rate.NewLimiter(rate.Limit(cfg.SubmitRate), cfg.SubmitBurst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/searches", func(r chi.Router) {
			r.With(h.throttle(submit)).Post("/", h.CreateSearch)
			r.Get("/", h.ListSearches)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", h.GetSearch)
				r.Get("/records", h.GetRecords)
				r.Get("/stats", h.GetStats)
				r.Get("/export.csv", h.ExportCSV)
			})
		})
		r.Get("/runs", h.ListRuns)
	})

	return r
}

// throttle rejects requests beyond the limiter's budget with 429.
func (h *Handlers) throttle(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				h.respondError(w, http.StatusTooManyRequests, "too many searches submitted")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
