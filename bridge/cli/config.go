package cli

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds the bridgectl settings
type Config struct {
	ServerURL string
	Interval  time.Duration
	Timeout   time.Duration
}

// LoadConfig reads configuration from BRIDGECTL_ environment variables and an
// optional .bridgectl.toml in $HOME or the working directory. An explicit path
// must exist.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".bridgectl")
		v.SetConfigType("toml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("interval", "5s")
	v.SetDefault("timeout", "30s")

	v.SetEnvPrefix("BRIDGECTL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		ServerURL: v.GetString("server_url"),
		Interval:  v.GetDuration("interval"),
		Timeout:   v.GetDuration("timeout"),
	}

	u, err := url.Parse(cfg.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server_url %q is not a valid URL", cfg.ServerURL)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	return cfg, nil
}
