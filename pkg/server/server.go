// Package server exposes the enhancement configuration, the provider
// registry and the invoker over a small JSON HTTP API, for hosts that would
// rather talk HTTP than share files.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jingkaihe/enhancer/pkg/enhance"
	"github.com/jingkaihe/enhancer/pkg/logger"
	"github.com/jingkaihe/enhancer/pkg/provider"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

// Config is the server section of the configuration file.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Validate checks the listen address.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Address is the host:port the server listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Enhancer rewrites a prompt. *enhance.Invoker satisfies it.
type Enhancer interface {
	Enhance(ctx context.Context, input string) (string, error)
}

// Publisher fans a pushed provider list out to in-process subscribers.
type Publisher interface {
	Publish(providers []provider.Provider)
}

// Server is the HTTP API.
type Server struct {
	router    *mux.Router
	config    *Config
	configs   *enhance.ConfigStore
	registry  *provider.Registry
	enhancer  Enhancer
	publisher Publisher
	server    *http.Server
}

// Option customises a Server.
type Option func(*Server)

// WithPublisher makes provider pushes reach p as well as the registry.
func WithPublisher(p Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// NewServer validates config and builds the router.
func NewServer(config *Config, configs *enhance.ConfigStore, registry *provider.Registry, enhancer Enhancer, opts ...Option) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		router:   mux.NewRouter(),
		config:   config,
		configs:  configs,
		registry: registry,
		enhancer: enhancer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handlePutConfig).Methods(http.MethodPut)
	api.HandleFunc("/config", s.handleResetConfig).Methods(http.MethodDelete)
	api.HandleFunc("/config/schema", s.handleConfigSchema).Methods(http.MethodGet)
	api.HandleFunc("/providers", s.handleListProviders).Methods(http.MethodGet)
	api.HandleFunc("/providers", s.handlePushProviders).Methods(http.MethodPost)
	api.HandleFunc("/providers/{id}/models", s.handleProviderModels).Methods(http.MethodGet)
	api.HandleFunc("/enhance", s.handleEnhance).Methods(http.MethodPost)
	// preflight requests only need the CORS headers added by the middleware
	api.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// corsMiddleware lets webview hosts on other origins call the API.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, s.configs.Load(r.Context()))
}

// handlePutConfig replaces the stored record. Omitted fields take the same
// defaults as a fresh load.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(r)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	cfg, err := enhance.ParseConfig(body)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if cfg.SpecificModel == enhance.CustomModelPlaceholder {
		cfg.SpecificModel = ""
	}

	s.configs.Save(ctx, cfg)
	s.writeJSON(ctx, w, http.StatusOK, s.configs.Load(ctx))
}

func (s *Server) handleResetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.configs.Reset(ctx)
	s.writeJSON(ctx, w, http.StatusOK, s.configs.Load(ctx))
}

func (s *Server) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, enhance.ConfigSchema())
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, s.registry.List(r.Context()))
}

// handlePushProviders is the HTTP form of a host push: the list replaces the
// cache, is mirrored to storage and fanned out to subscribers.
func (s *Server) handlePushProviders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(r)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	providers, err := provider.Parse(body)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	s.registry.SetCache(providers)
	if err := s.registry.Mirror(ctx, providers); err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, "failed to persist providers", err)
		return
	}
	if s.publisher != nil {
		s.publisher.Publish(providers)
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"count":  len(providers),
		"active": provider.ActiveCount(providers),
	})
}

func (s *Server) handleProviderModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	p, ok := s.registry.Find(ctx, id)
	if !ok {
		s.writeError(ctx, w, http.StatusNotFound, fmt.Sprintf("provider %q not found", id), nil)
		return
	}
	s.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"providerId": p.ID,
		"models":     provider.ExtractModels(p),
	})
}

type enhanceRequest struct {
	Input string `json:"input"`
}

type enhanceResponse struct {
	Enhanced string `json:"enhanced,omitempty"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(r)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	var req enhanceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	enhanced, err := s.enhancer.Enhance(ctx, req.Input)
	if err != nil {
		kind := enhance.Kind(err)
		s.writeJSON(ctx, w, statusForKind(kind), enhanceResponse{Error: err.Error(), Kind: kind})
		return
	}
	s.writeJSON(ctx, w, http.StatusOK, enhanceResponse{Enhanced: enhanced})
}

// statusForKind maps an enhancement failure onto an HTTP status. Failures of
// the upstream API surface as 502 so hosts can tell them from their own mistakes.
func statusForKind(kind string) int {
	switch kind {
	case "empty_input":
		return http.StatusBadRequest
	case "feature_disabled":
		return http.StatusConflict
	case "missing_credentials":
		return http.StatusPreconditionFailed
	case "rate_limit":
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(ctx).WithError(err).Error("failed to encode JSON response")
	}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		logger.G(ctx).WithError(err).Error(message)
	}
	s.writeJSON(ctx, w, status, map[string]any{
		"error":   message,
		"status":  status,
		"success": false,
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.G(ctx).WithField("address", s.config.Address()).Info("enhancer API listening")

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Close stops the server immediately.
func (s *Server) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
