package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/config"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/failover"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/prices"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/prices/pyth"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/quoter"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/rpc"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/signals/blockscout"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/signals/evm"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/signals/relayer"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/tracker"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Logger()

	// Share the logger with the service packages
	rpc.SetLogger(log)
	quoter.SetLogger(log)
	tracker.SetLogger(log)
	prices.SetLogger(log)
	pyth.SetLogger(log)
	failover.SetLogger(log)
	evm.SetLogger(log)
	blockscout.SetLogger(log)
	relayer.SetLogger(log)
}

func main() {
	configPath := flag.String("config", "", "toml config file for the server, env only when empty")
	flag.Parse()

	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load server config")
	}

	log.Info().
		Str("config", *configPath).
		Str("network", cfg.Network).
		Msg("Starting Spectra bridge server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, err := config.NewRegistryLoader().Load(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load chain registry")
	}
	log.Info().
		Int("chains", len(reg.Chains(""))).
		Int("tokens", len(reg.Tokens())).
		Msg("Loaded registry")

	source, err := buildPriceSource(cfg, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create price source")
	}

	engineConfig := quoter.DefaultConfig()
	engineConfig.ConfidenceCeiling = cfg.ConfidenceCeiling
	engineConfig.StaleConfidenceFactor = cfg.StaleConfidenceFactor
	engineConfig.PriceTimeout = cfg.CollaboratorTimeout()
	engine := quoter.NewEngine(reg, source, prices.NewCache(cfg.PriceCacheTTL()), engineConfig)

	chains, err := evm.Dial(ctx, reg, cfg.CollaboratorTimeout())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to dial chain rpcs")
	}
	defer chains.Close()

	var confirmations tracker.ConfirmationSource = chains
	if cfg.BlockscoutEnabled {
		confirmations = tracker.NewFallbackConfirmations(
			failover.Provider[tracker.ConfirmationSource]{Name: "rpc", Client: chains},
			failover.Provider[tracker.ConfirmationSource]{Name: "blockscout", Client: blockscout.NewClient(nil, cfg.CollaboratorTimeout())},
		)
		log.Info().Msg("Blockscout confirmation fallback enabled")
	}

	var bridgeStatus tracker.BridgeStatusSource
	if len(cfg.RelayerURLs) > 0 {
		relayerClient, err := relayer.NewClient(cfg.RelayerURLs, cfg.CollaboratorTimeout())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create relayer client")
		}
		bridgeStatus = relayerClient
		log.Info().Int("urls", len(cfg.RelayerURLs)).Msg("Relayer status client initialized")
	} else {
		log.Warn().Msg("No relayer urls configured, only same-chain transactions can be tracked")
	}

	trk := tracker.New(reg, confirmations, confirmations, bridgeStatus, tracker.Config{
		CollaboratorTimeout: cfg.CollaboratorTimeout(),
		ExpectedDuration:    engine.ExpectedDuration,
	})

	server, err := rpc.NewServer(ctx, buildServerConfig(cfg), rpc.NewBridgeServer(reg, engine, trk))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RPC server")
	}

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			sigCh <- syscall.SIGTERM
		}
	}()

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}

// buildPriceSource returns the Hermes client, or fixed prices in development mode
// when no Hermes url is configured.
func buildPriceSource(cfg *config.ServerConfig, reg *registry.Registry) (prices.Source, error) {
	if cfg.DevelopmentMode && len(cfg.PythURLs) == 0 {
		log.Warn().Msg("Development mode without pyth urls, using fixed prices")
		return prices.NewStatic(map[string]decimal.Decimal{
			"USDC": decimal.NewFromInt(1),
			"USDT": decimal.NewFromInt(1),
			"ETH":  decimal.NewFromInt(2500),
			"WETH": decimal.NewFromInt(2500),
			"POL":  decimal.RequireFromString("0.25"),
			"ARB":  decimal.RequireFromString("0.40"),
			"OP":   decimal.RequireFromString("0.70"),
		}), nil
	}

	pythConfig := pyth.DefaultConfig()
	if len(cfg.PythURLs) > 0 {
		pythConfig.URLs = cfg.PythURLs
	}
	pythConfig.Timeout = cfg.CollaboratorTimeout()
	client, err := pyth.NewClient(pythConfig, reg)
	if err != nil {
		return nil, err
	}
	log.Info().Strs("urls", pythConfig.URLs).Msg("Pyth Hermes price source initialized")
	return client, nil
}

// buildServerConfig converts the loaded ServerConfig to rpc.ServerConfig
func buildServerConfig(cfg *config.ServerConfig) *rpc.ServerConfig {
	serverConfig := &rpc.ServerConfig{
		Address:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		AllowedOrigins: cfg.AllowedOrigins,
		EnableMetrics:  cfg.UsePrometheus,
		StreamInterval: cfg.PollInterval(),
	}

	// Set rate limiting if configured
	if cfg.RatePerMinute > 0 {
		serverConfig.RatePerMinute = &cfg.RatePerMinute
	}
	if cfg.MaxConcurrentRequests > 0 {
		serverConfig.MaxConcurrentRequests = &cfg.MaxConcurrentRequests
	}

	// Set OpenTelemetry configuration if any telemetry is enabled
	if cfg.EnableTracing || cfg.EnableMetrics || cfg.EnableLogs || cfg.UsePrometheus {
		serverConfig.OTelConfig = &rpc.OTelConfig{
			ServiceName:     defaultString(cfg.ServiceName, "spectra-bridge"),
			ServiceVersion:  defaultString(cfg.ServiceVersion, "1.0.0"),
			Environment:     defaultString(cfg.Environment, "development"),
			EnableTracing:   cfg.EnableTracing,
			UseOTLPTraces:   cfg.UseOTLPTraces,
			OTLPTracesURL:   cfg.OTLPTracesURL,
			EnableMetrics:   cfg.EnableMetrics,
			UsePrometheus:   cfg.UsePrometheus,
			UseOTLPMetrics:  cfg.UseOTLPMetrics,
			OTLPMetricsURL:  cfg.OTLPMetricsURL,
			EnableLogs:      cfg.EnableLogs,
			UseOTLPLogs:     cfg.UseOTLPLogs,
			OTLPLogsURL:     cfg.OTLPLogsURL,
			InsecureOTLP:    cfg.InsecureOTLP,
			OTLPCACertFile:  cfg.OTLPCACertFile,
			DevelopmentMode: cfg.DevelopmentMode,
		}
	}

	return serverConfig
}

// defaultString returns the default value if s is empty
func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
