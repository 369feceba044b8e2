package config

import "time"

// ServerConfig configures the bridge server binary.
type ServerConfig struct {
	// rpc configs
	Port int    `mapstructure:"port" toml:"port"`
	Host string `mapstructure:"host" toml:"host"`

	// CORS configs
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`

	// rate limiting configs
	RatePerMinute         int `mapstructure:"rate_per_minute" toml:"rate_per_minute"`
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests" toml:"max_concurrent_requests"`

	// OpenTelemetry configs
	ServiceName    string `mapstructure:"service_name" toml:"service_name"`
	ServiceVersion string `mapstructure:"service_version" toml:"service_version"`
	Environment    string `mapstructure:"environment" toml:"environment"` // PROD, DEV, TEST, LOCAL
	EnableTracing  bool   `mapstructure:"enable_tracing" toml:"enable_tracing"`
	UseOTLPTraces  bool   `mapstructure:"use_otlp_traces" toml:"use_otlp_traces"`
	OTLPTracesURL  string `mapstructure:"otlp_traces_url" toml:"otlp_traces_url"`
	EnableMetrics  bool   `mapstructure:"enable_metrics" toml:"enable_metrics"`
	UsePrometheus  bool   `mapstructure:"use_prometheus" toml:"use_prometheus"`
	UseOTLPMetrics bool   `mapstructure:"use_otlp_metrics" toml:"use_otlp_metrics"`
	OTLPMetricsURL string `mapstructure:"otlp_metrics_url" toml:"otlp_metrics_url"`
	EnableLogs     bool   `mapstructure:"enable_logs" toml:"enable_logs"`
	UseOTLPLogs    bool   `mapstructure:"use_otlp_logs" toml:"use_otlp_logs"`
	OTLPLogsURL    string `mapstructure:"otlp_logs_url" toml:"otlp_logs_url"`

	InsecureOTLP   bool   `mapstructure:"insecure_otlp" toml:"insecure_otlp"`
	OTLPCACertFile string `mapstructure:"otlp_ca_cert_file" toml:"otlp_ca_cert_file"`

	// Development mode uses stdout exporters
	DevelopmentMode bool `mapstructure:"development_mode" toml:"development_mode"`

	// Registry configs. Network is testnet, mainnet or all. RegistryPath is a local
	// TOML or JSON file, RegistrySource a go-getter url; the embedded registry is used
	// when both are empty.
	Network        string `mapstructure:"network" toml:"network"`
	RegistryPath   string `mapstructure:"registry_path" toml:"registry_path"`
	RegistrySource string `mapstructure:"registry_source" toml:"registry_source"`

	// Collaborators
	PythURLs          []string `mapstructure:"pyth_urls" toml:"pyth_urls"`
	RelayerURLs       []string `mapstructure:"relayer_urls" toml:"relayer_urls"`
	BlockscoutEnabled bool     `mapstructure:"blockscout_enabled" toml:"blockscout_enabled"`

	// Quote and tracking tuning
	PriceCacheTTLSeconds       int     `mapstructure:"price_cache_ttl_seconds" toml:"price_cache_ttl_seconds"`
	CollaboratorTimeoutSeconds int     `mapstructure:"collaborator_timeout_seconds" toml:"collaborator_timeout_seconds"`
	PollIntervalSeconds        int     `mapstructure:"poll_interval_seconds" toml:"poll_interval_seconds"`
	ConfidenceCeiling          float64 `mapstructure:"confidence_ceiling" toml:"confidence_ceiling"`
	StaleConfidenceFactor      float64 `mapstructure:"stale_confidence_factor" toml:"stale_confidence_factor"`
}

// PriceCacheTTL returns the price cache freshness window.
func (c *ServerConfig) PriceCacheTTL() time.Duration {
	return time.Duration(c.PriceCacheTTLSeconds) * time.Second
}

// CollaboratorTimeout returns the bound on one collaborator call.
func (c *ServerConfig) CollaboratorTimeout() time.Duration {
	return time.Duration(c.CollaboratorTimeoutSeconds) * time.Second
}

// PollInterval returns the default interval of streamed tracking.
func (c *ServerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
