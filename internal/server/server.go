// Package server hosts the operational HTTP endpoints for long-running
// sessions: the Prometheus scrape handler and the health probes. Both
// listeners are optional; a scan that exits in seconds runs neither.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Swatto86/LogSleuth/internal/health"
	"github.com/Swatto86/LogSleuth/internal/logging"
)

// Config selects which listeners to run. An empty address or a nil
// registry/checker disables that listener.
type Config struct {
	MetricsAddress  string
	MetricsPath     string
	MetricsRegistry *prometheus.Registry

	HealthAddress string
	LivenessPath  string
	ReadinessPath string
	HealthChecker *health.Checker
}

// Server runs the metrics and health listeners.
type Server struct {
	metricsServer *http.Server
	healthServer  *http.Server
	metricsAddr   string
	healthAddr    string
	log           *logging.Logger
}

// New wires the handlers but does not listen yet.
func New(cfg Config) *Server {
	s := &Server{log: logging.Global().WithComponent("server")}

	if cfg.MetricsAddress != "" && cfg.MetricsRegistry != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux := http.NewServeMux()
		mux.Handle(path, promhttp.HandlerFor(
			cfg.MetricsRegistry,
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
		s.metricsServer = newHTTPServer(cfg.MetricsAddress, mux)
	}

	if cfg.HealthAddress != "" && cfg.HealthChecker != nil {
		live := cfg.LivenessPath
		if live == "" {
			live = "/healthz"
		}
		ready := cfg.ReadinessPath
		if ready == "" {
			ready = "/ready"
		}
		mux := http.NewServeMux()
		mux.HandleFunc(live, cfg.HealthChecker.LivenessHandler())
		mux.HandleFunc(ready, cfg.HealthChecker.ReadinessHandler())
		mux.HandleFunc("/health", cfg.HealthChecker.Handler())
		s.healthServer = newHTTPServer(cfg.HealthAddress, mux)
	}

	return s
}

func newHTTPServer(addr string, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Start binds the configured listeners and begins serving. Bind
// failures are returned; later serve errors are logged.
func (s *Server) Start() error {
	start := func(name string, srv *http.Server) (string, error) {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return "", fmt.Errorf("%s server: %w", name, err)
		}
		s.log.Info().Str("address", ln.Addr().String()).Msgf("%s server listening", name)
		go func() {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				s.log.Error().Err(err).Msgf("%s server failed", name)
			}
		}()
		return ln.Addr().String(), nil
	}

	if s.metricsServer != nil {
		addr, err := start("metrics", s.metricsServer)
		if err != nil {
			return err
		}
		s.metricsAddr = addr
	}
	if s.healthServer != nil {
		addr, err := start("health", s.healthServer)
		if err != nil {
			if s.metricsServer != nil {
				s.metricsServer.Close()
			}
			return err
		}
		s.healthAddr = addr
	}
	return nil
}

// MetricsAddr returns the bound metrics address, empty when that
// listener is disabled or not started. Configuring port 0 yields the
// kernel-assigned port here.
func (s *Server) MetricsAddr() string { return s.metricsAddr }

// HealthAddr returns the bound health address, empty when that
// listener is disabled or not started.
func (s *Server) HealthAddr() string { return s.healthAddr }

// Stop drains both listeners. The context bounds how long in-flight
// scrapes may take to finish.
func (s *Server) Stop(ctx context.Context) error {
	var firstErr error

	stop := func(name string, srv *http.Server) {
		if srv == nil {
			return
		}
		s.log.Info().Msgf("stopping %s server", name)
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msgf("%s server shutdown failed", name)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	stop("metrics", s.metricsServer)
	stop("health", s.healthServer)
	return firstErr
}
