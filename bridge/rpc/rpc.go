package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var Logger zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	Logger = l
}

// ServerConfig holds configuration for the RPC server
type ServerConfig struct {
	Address               string
	AllowedOrigins        []string
	EnableMetrics         bool
	RatePerMinute         *int
	MaxConcurrentRequests *int
	// StreamInterval is the default poll interval of /stream/track.
	StreamInterval time.Duration
	OTelConfig     *OTelConfig // OpenTelemetry configuration
}

// DefaultServerConfig returns a default server configuration
func DefaultServerConfig() *ServerConfig {
	rateLimit := 0
	maxConcurrentRequests := 200
	return &ServerConfig{
		Address:               "localhost:8080",
		AllowedOrigins:        []string{"http://localhost:3000", "http://localhost:8080"},
		EnableMetrics:         true,
		RatePerMinute:         &rateLimit,
		MaxConcurrentRequests: &maxConcurrentRequests,
		StreamInterval:        5 * time.Second,
		OTelConfig:            DefaultOTelConfig(),
	}
}

// Server wraps the HTTP server and provides lifecycle management
type Server struct {
	config       *ServerConfig
	httpServer   *http.Server
	handler      http.Handler
	otelShutdown func(context.Context) error
}

// NewServer creates a new RPC server serving the bridge service
func NewServer(ctx context.Context, config *ServerConfig, bridge *BridgeServer) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}
	if bridge == nil {
		return nil, fmt.Errorf("bridge server is required")
	}

	// OTel failures never stop the server, it just runs without telemetry
	var otelShutdown func(context.Context) error
	if config.OTelConfig.enabled() {
		shutdown, err := NewOTelSDK(ctx, config.OTelConfig)
		if err != nil {
			Logger.Error().Err(err).Msg("Failed to initialize OpenTelemetry")
		} else {
			otelShutdown = shutdown
		}
	}
	tracing := config.OTelConfig != nil && config.OTelConfig.EnableTracing

	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(zerologMiddleware)
	mux.Use(zerologRecoverer)
	mux.Use(middleware.RealIP)
	mux.Use(realIPMiddleware)
	if tracing {
		mux.Use(traceContextMiddleware)
	}

	if config.RatePerMinute != nil && *config.RatePerMinute > 0 {
		mux.Use(httprate.LimitByIP(*config.RatePerMinute, 1*time.Minute))
	}
	if config.MaxConcurrentRequests != nil && *config.MaxConcurrentRequests > 0 {
		mux.Use(middleware.Throttle(*config.MaxConcurrentRequests))
	}

	// Prometheus metrics endpoint - enabled by separate flag or OTel config
	if config.EnableMetrics || (config.OTelConfig != nil && config.OTelConfig.UsePrometheus) {
		mux.Handle("/server/metrics", promhttp.Handler())
		Logger.Info().Msg("Metrics endpoint enabled: /server/metrics")
	}

	mux.HandleFunc("/server/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "service": "bridge-rpc"})
	})

	mux.HandleFunc("/server/ready", func(w http.ResponseWriter, r *http.Request) {
		chains := len(bridge.registry.Chains(""))
		if chains == 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "no chains loaded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ready",
			"chains":   chains,
			"tracking": bridge.tracker.Active(),
		})
	})

	// the stream outlives the request timeout below
	mux.Handle("/stream/track", newTrackStream(bridge.tracker, config.StreamInterval, config.AllowedOrigins))

	connectOpts := []connect.HandlerOption{
		connect.WithRecover(recoverHandler),
		connect.WithInterceptors(
			loggingInterceptor(),
			validationInterceptor(),
			noCacheInterceptor(),
		),
	}
	if tracing {
		otelInterceptor, err := otelconnect.NewInterceptor()
		if err != nil {
			Logger.Warn().Err(err).Msg("Failed to create OTEL interceptor, continuing without it")
		} else {
			connectOpts = append(connectOpts, connect.WithInterceptors(otelInterceptor))
		}
	}

	path, handler := NewBridgeServiceHandler(bridge, connectOpts...)
	mux.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Use(middleware.Timeout(60 * time.Second))
		r.Handle(path+"*", handler)
	})

	corsHandler := newCORSHandler(config.AllowedOrigins, mux)
	root := h2c.NewHandler(corsHandler, &http2.Server{})

	httpServer := &http.Server{
		Addr:              config.Address,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		config:       config,
		httpServer:   httpServer,
		handler:      root,
		otelShutdown: otelShutdown,
	}, nil
}

// Handler returns the root handler, useful to serve the API from tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving RPC requests without TLS
func (s *Server) Start() error {
	s.logServerInfo("http")
	return s.httpServer.ListenAndServe()
}

// StartTLS begins serving RPC requests with TLS
func (s *Server) StartTLS(certFile, keyFile string) error {
	s.logServerInfo("https")
	return s.httpServer.ListenAndServeTLS(certFile, keyFile)
}

func (s *Server) logServerInfo(protocol string) {
	Logger.Info().
		Str("address", s.config.Address).
		Str("protocol", protocol).
		Msg("Spectra Bridge RPC Server starting")

	Logger.Info().Msg("Available endpoints:")
	Logger.Info().Msgf("\tRPC: /%s/*", BridgeServiceName)
	Logger.Info().Msg("\tStream: /stream/track?handle=<id>")
	Logger.Info().Msg("\tHealth: /server/health")
	Logger.Info().Msg("\tReady: /server/ready")

	if s.config.EnableMetrics || (s.config.OTelConfig != nil && s.config.OTelConfig.UsePrometheus) {
		Logger.Info().Msg("\tMetrics: /server/metrics")
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	Logger.Info().Msg("Shutting down RPC server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		Logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	// flush pending telemetry after the last request is done
	if s.otelShutdown != nil {
		if err := s.otelShutdown(ctx); err != nil {
			Logger.Error().Err(err).Msg("Error shutting down OpenTelemetry")
			return err
		}
	}

	Logger.Info().Msg("Server shutdown complete")
	return nil
}

// recoverHandler handles panics in RPC handlers
func recoverHandler(ctx context.Context, spec connect.Spec, header http.Header, p any) error {
	Logger.Error().
		Interface("panic", p).
		Str("procedure", spec.Procedure).
		Msg("Panic in RPC handler")
	// don't expose internal panic details
	return connect.NewError(connect.CodeInternal, fmt.Errorf("internal server error"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
