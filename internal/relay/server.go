package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/autoyield/internal/metrics"
)

const (
	// MaxBodyBytes bounds an accepted request body.
	MaxBodyBytes = 5 << 20

	defaultUpstreamTimeout = 30 * time.Second
)

// errorDocument is the only body a failed relay request ever gets.
var errorDocument = []byte(`{"error":"RPC request failed"}`)

// Server forwards JSON-RPC requests to one fixed backing endpoint and adds
// permissive cross-origin headers. It does not inspect or rewrite the payload.
type Server struct {
	Addr       string
	BackingURL string

	client *http.Client
	logger *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithHTTPClient replaces the client used to reach the backing node.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) {
		if c != nil {
			s.client = c
		}
	}
}

// NewServer creates a relay listening on addr and forwarding to backingURL.
func NewServer(addr, backingURL string, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		Addr:       addr,
		BackingURL: backingURL,
		client:     &http.Client{Timeout: defaultUpstreamTimeout},
		logger:     logger.With(zap.String("component", "rpc_relay")),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler returns the relay routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	for _, p := range []string{"/", "/api/rpc"} {
		r.Post(p, s.handleRelay)
		r.Options(p, handlePreflight)
	}

	return r
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

// handlePreflight answers preflights that carry no Origin and so bypass the cors middleware.
func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	setCORSHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	setCORSHeaders(w.Header())

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		s.fail(w, "read_error", errors.Wrap(err, "read request body"))
		return
	}
	if len(body) > MaxBodyBytes {
		s.fail(w, "too_large", errors.Errorf("request body exceeds %d bytes", MaxBodyBytes))
		return
	}
	if !json.Valid(body) {
		s.fail(w, "invalid_json", errors.New("request body is not valid JSON"))
		return
	}

	payload, err := s.forward(r.Context(), body)
	metrics.RelayLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		s.fail(w, "upstream_error", err)
		return
	}

	metrics.RelayRequests.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) forward(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BackingURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build upstream request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "upstream request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("upstream status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read upstream response")
	}
	if !json.Valid(payload) {
		return nil, errors.New("upstream response is not valid JSON")
	}

	return payload, nil
}

func (s *Server) fail(w http.ResponseWriter, outcome string, err error) {
	metrics.RelayRequests.WithLabelValues(outcome).Inc()
	s.logger.Warn("rpc relay request failed", zap.String("outcome", outcome), zap.Error(err))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write(errorDocument)
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("rpc relay listening", zap.String("addr", s.Addr), zap.String("backing", s.BackingURL))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS relay with ACME certificates. It also serves the
// HTTP-01 challenge on port 80.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("acme server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https relay shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("acme server", zap.Error(err))
		}
	}()

	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
