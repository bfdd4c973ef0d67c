// Package server exposes video-to-plan analysis over HTTP
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/v0xg/screenplay/internal/ai"
	"github.com/v0xg/screenplay/internal/config"
	"github.com/v0xg/screenplay/internal/frames"
	"github.com/v0xg/screenplay/internal/metrics"
	"go.uber.org/zap"
)

// ProviderFactory builds a provider from explicit settings
type ProviderFactory func(name string, s ai.Settings) (ai.Provider, error)

// Deps are the collaborators of a Server. Provider may be nil when no
// credentials are configured; clients must then send api_key.
type Deps struct {
	Config      *config.Config
	Provider    ai.Provider
	NewProvider ProviderFactory
	Gatherer    prometheus.Gatherer
	Metrics     *metrics.Collector
	Logger      *zap.Logger
}

// Server serves the analysis endpoints
type Server struct {
	cfg         *config.Config
	selector    *frames.Selector
	provider    ai.Provider
	newProvider ProviderFactory
	gatherer    prometheus.Gatherer
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// New validates deps and returns a Server
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, errors.New("server needs a config")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")

	selector, err := frames.NewSelector(frames.OptionsFromConfig(deps.Config.Frames), logger, deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("frame selector: %w", err)
	}

	newProvider := deps.NewProvider
	if newProvider == nil {
		newProvider = func(name string, s ai.Settings) (ai.Provider, error) {
			return ai.NewProvider(name, s, logger, deps.Metrics)
		}
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:         deps.Config,
		selector:    selector,
		provider:    deps.Provider,
		newProvider: newProvider,
		gatherer:    gatherer,
		metrics:     deps.Metrics,
		logger:      logger,
	}, nil
}

// Handler returns the routed, instrumented handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	analyze := s.metrics.InstrumentHandler("video_to_frames", http.HandlerFunc(s.handleVideoToFrames))
	mux.Handle("POST /video-to-frames", analyze)
	mux.Handle("POST /video-to-frames/", analyze)
	mux.Handle("GET /healthz", s.metrics.InstrumentHandler("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.AllowedOrigins),
	)
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.logger.Info("HTTP server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
