// Package httpapi serves the command, state and admin HTTP surface.
package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"towerdefense.ai/internal/sim/engine"
	"towerdefense.ai/internal/transport/observer"
)

type Config struct {
	// Runner is required.
	Runner *engine.Runner

	// WS serves GET /v1/ws when set.
	WS http.Handler
	// Observer serves the loopback-only state stream when set.
	Observer *observer.Server

	// RateLimiter is optional; if nil one is built from RateLimitConfig.
	RateLimiter     *IPRateLimiter
	RateLimitConfig *RateLimitConfig

	CORSOrigins []string

	// AdminToken guards POST /v1/settlement/flush. Empty disables the route.
	AdminToken string

	SubmitTimeout  time.Duration
	DisableLogging bool
	Logger         *log.Logger
}

type handlers struct {
	runner     *engine.Runner
	adminToken string
	timeout    time.Duration
	log        *log.Logger
}

// NewRouter builds the router. It starts no goroutines except the rate
// limiter's cleanup loop when it builds its own limiter.
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	rl := cfg.RateLimiter
	if rl == nil {
		rlc := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rlc = *cfg.RateLimitConfig
		}
		rl = NewIPRateLimiter(rlc)
	}

	origins := cfg.CORSOrigins
	if origins == nil {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Session-Id"},
		MaxAge:         300,
	}))

	timeout := cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	h := &handlers{
		runner:     cfg.Runner,
		adminToken: cfg.AdminToken,
		timeout:    timeout,
		log:        cfg.Logger,
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rl.Middleware)
			r.Post("/command", h.handleCommand)
			r.Get("/state/{pid0}/{pid1}", h.handlePlayerState)
			r.Get("/world", h.handleWorldState)
			r.Get("/config", h.handleConfig)
			if cfg.AdminToken != "" {
				r.Post("/settlement/flush", h.handleSettlementFlush)
			}
		})
		if cfg.WS != nil {
			r.Get("/ws", cfg.WS.ServeHTTP)
		}
		if cfg.Observer != nil {
			r.Get("/observe/bootstrap", cfg.Observer.BootstrapHandler())
			r.Get("/observe/ws", cfg.Observer.WSHandler())
		}
	})
	return r
}
