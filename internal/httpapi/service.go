package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	core "github.com/watchpost/watchpost/internal/app/core/service"
	"github.com/watchpost/watchpost/pkg/logger"
	"github.com/watchpost/watchpost/pkg/watchpost/engine"
	"github.com/watchpost/watchpost/pkg/watchpost/metrics"
)

// Service exposes an Engine over HTTP and fits into the system manager
// lifecycle the same way the teacher's applications/httpapi.Service does:
// a bound net.Listener handed to http.Server.Serve in a goroutine, with
// Stop doing a graceful http.Server.Shutdown.
type Service struct {
	addr    string
	eng     *engine.Engine
	log     *logger.Logger
	handler http.Handler

	mu      sync.Mutex
	server  *http.Server
	running bool
	bound   string

	gaugesOnce sync.Once
}

// NewService builds the HTTP adapter around eng, listening on addr.
func NewService(eng *engine.Engine, addr string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("http")
	}
	h := &handler{eng: eng}
	mux := http.NewServeMux()
	mountRoutes(mux,
		route{pattern: "/", method: http.MethodGet, handler: h.handleRoot},
		route{pattern: "/healthcheck", method: http.MethodGet, handler: h.handleHealthcheck},
		route{pattern: "/executor/statistics", method: http.MethodGet, handler: h.handleStatistics},
		route{pattern: "/executor/errored", method: http.MethodGet, handler: h.handleErrored},
	)
	mux.Handle("/metrics", metrics.Handler())

	svc := &Service{
		addr:    addr,
		eng:     eng,
		log:     log,
		handler: metrics.InstrumentHandler(mux),
	}
	svc.registerExecutorGauges()
	return svc
}

// registerExecutorGauges wires the executor's running/completed/errored
// rolling snapshot (spec §4.5) into the shared Prometheus registry, scraped
// lazily rather than pushed on every state transition.
func (s *Service) registerExecutorGauges() {
	s.gaugesOnce.Do(func() {
		metrics.RegisterExecutorGaugeFunc("running", "Checks currently executing.", func() float64 {
			return float64(s.eng.Statistics().Running)
		})
		metrics.RegisterExecutorGaugeFunc("completed", "Checks completed since startup.", func() float64 {
			return float64(s.eng.Statistics().Completed)
		})
		metrics.RegisterExecutorGaugeFunc("errored", "Checks that errored since startup.", func() float64 {
			return float64(s.eng.Statistics().Errored)
		})
	})
}

var _ core.DescriptorProvider = (*Service)(nil)

// Descriptor advertises this service's placement for the system manager's
// introspection surface.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "watchpost-http",
		Domain: "monitoring",
		Layer:  core.LayerAdapter,
	}.WithCapabilities("poll-http", "executor-introspection", "metrics")
}

// Name satisfies system.Service.
func (s *Service) Name() string { return "http" }

// Start satisfies system.Service: binds addr and serves in the background.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.running = true
	s.server = server
	s.bound = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
		s.mu.Lock()
		if s.server == server {
			s.running = false
			s.bound = ""
		}
		s.mu.Unlock()
	}()

	s.log.Infof("http adapter listening on %s", s.bound)
	return nil
}

// Stop satisfies system.Service: gracefully shuts down the HTTP server.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)

	s.mu.Lock()
	if s.server == server {
		s.running = false
		s.bound = ""
	}
	s.mu.Unlock()

	return err
}

// Addr returns the bound address after Start, or the configured address
// before.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.addr
}
