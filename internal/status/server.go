// Package status serves the orchestrator's read-only operator view:
// case status and history, GPU and supervised-process state, and
// dead-letter inspection, plus the live status feed upgrade route.
// Nothing under this package can change orchestrator state; mutation
// happens only through the Conductor/Supervisor/workers consuming the
// message bus.
package status

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qaorchestrator/internal/bus"
	"qaorchestrator/internal/caseevents"
	"qaorchestrator/internal/metrics"
	"qaorchestrator/internal/statusfeed"
	"qaorchestrator/internal/storage"
	"qaorchestrator/internal/supervisor"
)

// Config controls the status server's auth and rate limiting.
type Config struct {
	Addr        string
	AuthEnabled bool
	JWTSecret   string
	APIKeys     []string
	RateLimit   int
}

// Server is the status API plus the live status feed, sharing one chi
// router and one HTTP listener.
type Server struct {
	router  *chi.Mux
	handler *Handler
	hub     *statusfeed.Hub
	feed    *statusfeed.Handler
}

// NewServer wires the read-only handlers and the status feed hub onto
// a chi router.
func NewServer(cfg Config, store *storage.Store, sup *supervisor.Supervisor, deadLetter *bus.RedisBus, queues []string, events *caseevents.RedisPub) *Server {
	apiKeys := make(map[string]bool, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		apiKeys[k] = true
	}

	hub := statusfeed.NewHub(events)
	s := &Server{
		router:  chi.NewRouter(),
		handler: NewHandler(store, sup, deadLetter, queues),
		hub:     hub,
		feed:    statusfeed.NewHandler(hub),
	}

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.Heartbeat("/health"))
	s.router.Use(recordRequestMetrics)
	if cfg.RateLimit > 0 {
		s.router.Use(rateLimit(cfg.RateLimit))
	}

	authCfg := AuthConfig{Enabled: cfg.AuthEnabled, JWTSecret: cfg.JWTSecret, APIKeys: apiKeys}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth(authCfg))
		r.Route("/cases", func(r chi.Router) {
			r.Get("/", s.handler.ListCases)
			r.Get("/{caseID}", s.handler.GetCase)
			r.Get("/{caseID}/history", s.handler.CaseHistory)
		})
		r.Get("/gpus", s.handler.ListGPUs)
		r.Get("/processes", s.handler.ListProcesses)
		r.Get("/queues", s.handler.ListQueues)
		r.Get("/queues/{queue}/dlq", s.handler.ListDLQ)
	})

	s.router.Get("/health", s.handler.HealthCheck)
	s.router.Get("/feed", s.feed.ServeWS)
	s.router.Handle("/metrics", promhttp.Handler())

	return s
}

// Start launches the status feed hub's background loop.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
}

// Stop drains the status feed hub.
func (s *Server) Stop() {
	s.hub.Stop()
}

// Router exposes the underlying chi router for http.ListenAndServe.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// recordRequestMetrics observes every status API request's duration under
// the route pattern chi matched, not the raw path, so per-case and
// per-queue URLs don't each mint their own histogram label.
func recordRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		metrics.RecordHTTPRequest(r.Method, pattern, strconv.Itoa(ww.Status()), time.Since(start).Seconds())
	})
}
