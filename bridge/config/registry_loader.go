package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	getter "github.com/hashicorp/go-getter"
)

// RegistryLoader loads chain and token registries from files.
type RegistryLoader struct{}

// NewRegistryLoader creates a new registry loader.
func NewRegistryLoader() *RegistryLoader {
	return &RegistryLoader{}
}

// LoadFromFile parses a TOML or JSON registry file, picked by extension.
func (l *RegistryLoader) LoadFromFile(filePath string) (*registry.Registry, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	reg, err := registry.Parse(data, formatOf(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to load registry %s: %w", filePath, err)
	}
	return reg, nil
}

/*
FetchRegistry downloads a registry file with go-getter and parses it.

Params:
  - ctx: bounds the download, a two minute deadline is added
  - src: any go-getter source, e.g. an https url or a local path

Returns:
  - the parsed registry
  - error: if the file cannot be downloaded or parsed
*/
func (l *RegistryLoader) FetchRegistry(ctx context.Context, src string) (*registry.Registry, error) {
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	dir, err := os.MkdirTemp("", "bridge-registry-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	dst := filepath.Join(dir, "registry."+formatOf(src))
	pwd, _ := os.Getwd()
	opts := getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Pwd:  pwd,
		Mode: getter.ClientModeFile,
	}
	if err := opts.Get(); err != nil {
		return nil, fmt.Errorf("failed to download registry: %w", err)
	}
	return l.LoadFromFile(dst)
}

// Load picks the registry source from the server config: a remote source, a local
// file or the embedded default, restricted to the configured network.
func (l *RegistryLoader) Load(ctx context.Context, config *ServerConfig) (*registry.Registry, error) {
	var (
		reg *registry.Registry
		err error
	)
	switch {
	case config.RegistrySource != "":
		reg, err = l.FetchRegistry(ctx, config.RegistrySource)
	case config.RegistryPath != "":
		reg, err = l.LoadFromFile(config.RegistryPath)
	default:
		reg, err = registry.Default()
	}
	if err != nil {
		return nil, err
	}

	network := strings.ToLower(config.Network)
	if network == "all" {
		return reg, nil
	}
	return reg.Restrict(registry.Network(network))
}

func formatOf(src string) string {
	p := src
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		p = u.Path
	}
	if strings.EqualFold(path.Ext(p), ".json") {
		return "json"
	}
	return "toml"
}
