// Package server exposes the image generation HTTP API: an OpenAI-style
// POST /v1/images/generations guarded by a bearer token, and an
// unauthenticated GET /health.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sdcpp_server/logging"
	"sdcpp_server/sdruntime"
)

const (
	generationsPath = "/v1/images/generations"
	healthPath      = "/health"
)

// ImageGenerator produces images for validated requests.
// *sdruntime.Generator implements it.
type ImageGenerator interface {
	Generate(ctx context.Context, req sdruntime.GenerationRequest) (*sdruntime.Result, error)
}

// OperationGuard tracks in-flight work so shutdown can drain it.
// *shutdown.Manager implements it.
type OperationGuard interface {
	WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error
}

// ServerConfig configures the Server.
type ServerConfig struct {
	Host string
	Port int

	// Token is the shared secret expected after "Bearer ".
	Token string

	// MaxBodyBytes caps the request body. Zero disables the cap.
	MaxBodyBytes int64

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
// WriteTimeout is deliberately absent: generations can take minutes.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "0.0.0.0",
		Port:              8080,
		MaxBodyBytes:      1 << 20,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Server is the API HTTP server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	config     ServerConfig
	auth       *Authenticator
	generator  ImageGenerator
	guard      OperationGuard
	recorder   RequestRecorder
	logger     *logging.Logger
	now        func() time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithOperationGuard routes every generation through guard.
func WithOperationGuard(guard OperationGuard) Option {
	return func(s *Server) { s.guard = guard }
}

// WithRequestRecorder records every request, typically into Prometheus.
func WithRequestRecorder(rec RequestRecorder) Option {
	return func(s *Server) { s.recorder = rec }
}

// WithClock overrides time.Now for health timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a Server. It does not start listening.
func NewServer(config ServerConfig, generator ImageGenerator, logger *logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		mux:       http.NewServeMux(),
		config:    config,
		auth:      NewAuthenticator(config.Token),
		generator: generator,
		logger:    logger.Named("http"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              config.Addr(),
		Handler:           s.rootHandler(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		ReadTimeout:       config.ReadTimeout,
		IdleTimeout:       config.IdleTimeout,
		ErrorLog:          zap.NewStdLog(s.logger.Zap()),
	}

	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST "+generationsPath, s.handleGenerate)
	s.mux.HandleFunc("GET "+healthPath, s.handleHealth)
}

// rootHandler wraps the mux with middleware.
func (s *Server) rootHandler() http.Handler {
	return accessLog(s.logger, s.recorder, s.mux)
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests until
// ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
