package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/AaronLay10/RuleChain/internal/metrics"
	"github.com/AaronLay10/RuleChain/internal/orchestrator"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// BatchTrigger runs batches against the engine's shared device context.
// *orchestrator.Worker implements it.
type BatchTrigger interface {
	Trigger(ctx context.Context) (*orchestrator.BatchResult, error)
	Snapshot(ctx context.Context) (orchestrator.Devices, error)
}

// Options wires a Server to the engine. Batch and Metrics may be nil.
type Options struct {
	Store   orchestrator.ChainStore
	Batch   BatchTrigger
	Metrics *metrics.Metrics
	TLS     *TLSConfig
}

// Server is the HTTP API of the engine.
type Server struct {
	store   orchestrator.ChainStore
	batch   BatchTrigger
	metrics *metrics.Metrics
	tls     *TLSConfig
	started time.Time
	router  chi.Router
}

// NewServer builds the router and registers the server gauges on
// o.Metrics.
func NewServer(o Options) *Server {
	s := &Server{
		store:   o.Store,
		batch:   o.Batch,
		metrics: o.Metrics,
		tls:     o.TLS,
		started: time.Now(),
	}
	s.registerMetrics()
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequireAnyRole)
		r.Get("/events", eventsHandler)
		r.Get("/ws/events", wsEventsHandler)
		r.Get("/chains", s.listChains)
		r.Get("/chains/{id}", s.getChain)
		r.Post("/run", s.runBatch)
		r.Get("/devices", s.listDevices)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireAdmin)
		r.Post("/chains", s.createChain)
		r.Post("/chains/bulk-delete", s.bulkDeleteChains)
		r.Delete("/chains/{id}", s.deleteChain)
	})

	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down
// gracefully. HTTPS is used when the server has a TLS configuration.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.tls != nil {
		tlsCfg, err := s.tls.Load()
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsCfg
	}

	errc := make(chan error, 1)
	go func() {
		if srv.TLSConfig != nil {
			log.Printf("API listening on %s (TLS)\n", srv.Addr)
			errc <- srv.ListenAndServeTLS("", "")
		} else {
			log.Printf("API listening on %s\n", srv.Addr)
			errc <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerMetrics() {
	if s.metrics == nil {
		return
	}
	regs := []error{
		s.metrics.RegisterGauge("uptime_seconds", "Seconds since the engine started", func() float64 {
			return time.Since(s.started).Seconds()
		}),
		s.metrics.RegisterCounter("events_total", "Events emitted since startup", func() float64 {
			return float64(events.TotalCount())
		}),
		s.metrics.RegisterGauge("ws_clients", "Active WebSocket client connections", func() float64 {
			return float64(events.SubscriberCount())
		}),
		s.metrics.RegisterCounter("events_dropped_total", "Event deliveries skipped for slow subscribers", func() float64 {
			return float64(events.DroppedCount())
		}),
		s.metrics.RegisterGauge("ready", "Whether the engine is processing batches (1) or not (0)", func() float64 {
			readiness.mu.RLock()
			defer readiness.mu.RUnlock()
			return boolGauge(readiness.orchestratorReady)
		}),
		s.metrics.RegisterGauge("mqtt_connected", "Whether the MQTT broker is connected (1) or not (0)", func() float64 {
			readiness.mu.RLock()
			defer readiness.mu.RUnlock()
			return boolGauge(readiness.mqttConnected)
		}),
		s.metrics.RegisterGauge("postgres_connected", "Whether PostgreSQL is connected (1) or not (0)", func() float64 {
			readiness.mu.RLock()
			defer readiness.mu.RUnlock()
			return boolGauge(readiness.postgresConnected)
		}),
	}
	for _, err := range regs {
		if err != nil {
			log.Printf("metrics registration failed: %v", err)
		}
	}
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "rulechain",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// eventsHandler returns the buffered events, optionally only the last
// ?limit=N, filtered like /ws/events.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, events.RecentMatching(limit, eventFilter(r)))
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{OK: false, Error: msg})
}
