package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadServerConfig loads the server config from the given TOML file, or from
// BRIDGE_* environment variables when configPath is nil.
func LoadServerConfig(configPath *string) (*ServerConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == nil {
		// if no file expect envs
		config, err := loadEnv(v)
		if err != nil {
			return nil, fmt.Errorf("failed to load env config: %w", err)
		}
		return config, nil
	}
	config, err := loadFile(v, *configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load file config: %w", err)
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("rate_per_minute", 120)
	v.SetDefault("max_concurrent_requests", 100)
	v.SetDefault("service_name", "spectra-bridge")
	v.SetDefault("environment", "LOCAL")
	v.SetDefault("network", "testnet")
	v.SetDefault("blockscout_enabled", true)
	v.SetDefault("price_cache_ttl_seconds", 60)
	v.SetDefault("collaborator_timeout_seconds", 5)
	v.SetDefault("poll_interval_seconds", 5)
	v.SetDefault("confidence_ceiling", 0.95)
	v.SetDefault("stale_confidence_factor", 0.8)
}

func loadEnv(v *viper.Viper) (*ServerConfig, error) {
	// godot might fail if .env file is missing but
	// env can be applied through docker, systemd or other means, so skip error
	_ = godotenv.Load()
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	var config ServerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal env config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

// bindEnvKeys binds each config key to its env var so Unmarshal sees env values
// when no config file is loaded (env-only mode).
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"port", "host", "allowed_origins",
		"rate_per_minute", "max_concurrent_requests",
		"service_name", "service_version", "environment",
		"enable_tracing", "use_otlp_traces", "otlp_traces_url",
		"enable_metrics", "use_prometheus", "use_otlp_metrics", "otlp_metrics_url",
		"enable_logs", "use_otlp_logs", "otlp_logs_url",
		"insecure_otlp", "otlp_ca_cert_file", "development_mode",
		"network", "registry_path", "registry_source",
		"pyth_urls", "relayer_urls", "blockscout_enabled",
		"price_cache_ttl_seconds", "collaborator_timeout_seconds", "poll_interval_seconds",
		"confidence_ceiling", "stale_confidence_factor",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

func loadFile(v *viper.Viper, configPath string) (*ServerConfig, error) {
	if !strings.HasSuffix(configPath, ".toml") {
		return nil, fmt.Errorf("config file must be a toml file")
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ServerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}

	return &config, nil
}

func verifyConfig(config *ServerConfig) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if config.Host == "" {
		return fmt.Errorf("host is required")
	}

	if len(config.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed_origins is required")
	}

	switch strings.ToLower(config.Network) {
	case "testnet", "mainnet", "all":
	default:
		return fmt.Errorf("network must be testnet, mainnet or all")
	}

	if config.RegistryPath != "" && config.RegistrySource != "" {
		return fmt.Errorf("registry_path and registry_source are mutually exclusive")
	}

	for _, url := range append(append([]string{}, config.PythURLs...), config.RelayerURLs...) {
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("pyth_urls and relayer_urls must not contain empty entries")
		}
	}

	if config.PriceCacheTTLSeconds <= 0 {
		return fmt.Errorf("price_cache_ttl_seconds must be positive")
	}
	if config.CollaboratorTimeoutSeconds <= 0 {
		return fmt.Errorf("collaborator_timeout_seconds must be positive")
	}
	if config.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive")
	}
	if config.ConfidenceCeiling <= 0 || config.ConfidenceCeiling > 1 {
		return fmt.Errorf("confidence_ceiling must be in (0, 1]")
	}
	if config.StaleConfidenceFactor <= 0 || config.StaleConfidenceFactor > 1 {
		return fmt.Errorf("stale_confidence_factor must be in (0, 1]")
	}

	return nil
}
