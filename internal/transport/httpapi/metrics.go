package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"towerdefense.ai/internal/sim/engine"
)

// Labels are bounded: op names, result codes and route patterns only.
var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "td_commands_total",
		Help: "Processed commands by opcode and outcome",
	}, []string{"op", "result"})

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "td_command_duration_seconds",
		Help:    "Time spent processing one command",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"op"})

	worldTick = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "td_world_tick",
		Help: "Current world tick",
	})

	liveMonsters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "td_monsters",
		Help: "Monsters on the map",
	})

	placedTowers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "td_towers",
		Help: "Towers placed on the map",
	})

	kills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "td_kills_total",
		Help: "Monsters killed by towers",
	})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "td_rate_limited_total",
		Help: "Requests rejected by the per-IP rate limiter",
	})

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "td_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "td_http_requests_total",
		Help: "HTTP requests",
	}, []string{"method", "route", "status"})
)

// MetricsObserver records command outcomes and world gauges. It runs on the
// runner goroutine.
func MetricsObserver(r *engine.Runner) engine.Observer {
	return func(entry engine.CommandLogEntry, res engine.Result, elapsed time.Duration) {
		result := res.Code.String()
		if entry.Fatal != "" {
			result = "FATAL"
		}
		commandsTotal.WithLabelValues(entry.Op, result).Inc()
		commandDuration.WithLabelValues(entry.Op).Observe(elapsed.Seconds())
		if res.Report == nil {
			return
		}
		w := r.Engine().World()
		worldTick.Set(float64(res.Report.Tick))
		liveMonsters.Set(float64(len(w.Monsters())))
		placedTowers.Set(float64(len(w.Towers())))
		kills.Add(float64(res.Report.Kills))
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		requestLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		requestTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
