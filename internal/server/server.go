// Package server exposes the directive parser and the nix planner over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/emattiza/nix-runner/internal/config"
	"github.com/emattiza/nix-runner/internal/history"
	"github.com/emattiza/nix-runner/internal/logging"
	"github.com/emattiza/nix-runner/internal/tlsutil"
)

// Config holds server configuration.
type Config struct {
	Settings *config.Config
	Version  string
	Logger   *logging.Logger
	// History is optional. Without it the history endpoints answer 503.
	History *history.Store
	// InsecureHTTP serves plain HTTP instead of TLS.
	InsecureHTTP bool
}

// Server is the nix-runner web service.
type Server struct {
	settings *config.Config
	version  string
	log      *logging.Logger
	history  *history.Store
	insecure bool

	startTime time.Time
	parses    atomic.Int64
	failures  atomic.Int64
	stopping  atomic.Bool

	mu     sync.Mutex
	server *http.Server
}

// New creates a server. Missing settings and logger fall back to defaults.
func New(cfg Config) *Server {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New(logging.Config{Output: io.Discard, Component: "nix-runner-web"})
	}
	return &Server{
		settings:  cfg.Settings,
		version:   cfg.Version,
		log:       cfg.Logger,
		history:   cfg.History,
		insecure:  cfg.InsecureHTTP,
		startTime: time.Now(),
	}
}

// Router returns the HTTP handler for the service.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/status", s.handleStatus)
	r.Post("/parse", s.handleParse)
	r.Post("/plan", s.handlePlan)

	// History endpoints
	r.Get("/history", s.handleListHistory)
	r.Get("/history/{id}", s.handleGetHistory)

	// Logging endpoints
	r.Get("/logs", s.handleLogs)
	r.Get("/logs/stats", s.handleLogStats)

	return r
}

// Addr is the listen address from settings.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.settings.Server.Bind, strconv.Itoa(s.settings.Server.Port))
}

// Start serves until Shutdown is called. Over TLS, a self-signed
// certificate is generated when the configured files are missing.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	fields := map[string]any{
		"addr":    srv.Addr,
		"version": s.version,
		"backend": s.settings.Backend,
		"tls":     !s.insecure,
	}

	var err error
	if s.insecure {
		s.log.Info("server starting", fields)
		err = srv.ListenAndServe()
	} else {
		certFile, keyFile := s.settings.Server.TLSCert, s.settings.Server.TLSKey
		if err := tlsutil.EnsureTLSCert(certFile, keyFile); err != nil {
			return fmt.Errorf("preparing TLS certificate: %w", err)
		}
		srv.TLSConfig = tlsutil.DefaultTLSConfig()
		s.log.Info("server starting", fields)
		err = srv.ListenAndServeTLS(certFile, keyFile)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopping.Store(true)

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
