package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systmms/cookieguard/internal/logging"
)

// ServerConfig holds configuration for the metrics HTTP server
type ServerConfig struct {
	// Addr is the listen address, e.g. ":9090". Empty disables the server.
	Addr string

	// Path is the path to serve metrics on
	Path string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the default metrics server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":9090",
		Path:         "/metrics",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server serves Prometheus metrics and a liveness endpoint
type Server struct {
	config   ServerConfig
	server   *http.Server
	listener net.Listener
	logger   *logging.Logger
	healthy  func() bool
}

// NewServer creates a metrics server. healthy backs /health; nil means always healthy.
func NewServer(config ServerConfig, logger *logging.Logger, healthy func() bool) *Server {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{config: config, logger: logger, healthy: healthy}
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	if s.config.Addr == "" {
		return nil
	}

	InitMetrics()

	mux := http.NewServeMux()
	mux.Handle(s.config.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if s.healthy != nil && !s.healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("DEGRADED"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           mux,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// metrics are non-critical
			s.logger.Warn("metrics server error: %v", err)
		}
	}()

	s.logger.Info("Serving metrics on %s%s", ln.Addr(), s.config.Path)
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
