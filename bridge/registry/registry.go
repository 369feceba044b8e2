package registry

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

//go:embed default_registry.toml
var defaultRegistry []byte

// ErrNotFound is returned when a chain or token is not part of the registry.
var ErrNotFound = errors.New("not found in registry")

// Network separates production chains from their test deployments.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// ChainInfo describes one supported EVM network.
type ChainInfo struct {
	Key                   string          `toml:"key" json:"key"`
	ID                    uint64          `toml:"id" json:"id"`
	Name                  string          `toml:"name" json:"name"`
	NativeSymbol          string          `toml:"native_symbol" json:"native_symbol"`
	Network               Network         `toml:"network" json:"network"`
	ExplorerURL           string          `toml:"explorer_url" json:"explorer_url"`
	ExplorerAPIURL        string          `toml:"explorer_api_url" json:"explorer_api_url"`
	RPCURLs               []string        `toml:"rpc_urls" json:"rpc_urls"`
	RequiredConfirmations uint64          `toml:"required_confirmations" json:"required_confirmations"`
	BridgeGasUSD          decimal.Decimal `toml:"bridge_gas_usd" json:"bridge_gas_usd"`
	SwapGasUSD            decimal.Decimal `toml:"swap_gas_usd" json:"swap_gas_usd"`
}

// TxURL returns the explorer page for a transaction on this chain.
func (c ChainInfo) TxURL(txHash string) string {
	if c.ExplorerURL == "" || txHash == "" {
		return ""
	}
	return strings.TrimRight(c.ExplorerURL, "/") + "/tx/" + txHash
}

// clone copies the RPC url list so callers cannot write into the registry.
func (c ChainInfo) clone() ChainInfo {
	c.RPCURLs = slices.Clone(c.RPCURLs)
	return c
}

// TokenInfo describes a supported asset. Decimals is fixed for the lifetime of the
// registry and every amount of the token is scaled with it.
type TokenInfo struct {
	Symbol     string `toml:"symbol" json:"symbol"`
	Name       string `toml:"name" json:"name"`
	Decimals   int32  `toml:"decimals" json:"decimals"`
	PythFeedID string `toml:"pyth_feed_id" json:"pyth_feed_id"`
	Stable     bool   `toml:"stable" json:"stable"`
}

// File is the on-disk layout of a registry, in TOML or JSON.
type File struct {
	Chains []ChainInfo `toml:"chains" json:"chains"`
	Tokens []TokenInfo `toml:"tokens" json:"tokens"`
}

// Registry is a read-only lookup of chains and tokens. It is built once and never
// mutated, so it is safe for concurrent use without locking.
type Registry struct {
	chains     []ChainInfo
	tokens     []TokenInfo
	chainByKey map[string]int
	chainByID  map[uint64]int
	tokenBySym map[string]int
}

// New validates the file contents and builds a registry from them.
func New(file File) (*Registry, error) {
	if len(file.Chains) == 0 {
		return nil, fmt.Errorf("registry has no chains")
	}
	if len(file.Tokens) == 0 {
		return nil, fmt.Errorf("registry has no tokens")
	}

	r := &Registry{
		chains:     make([]ChainInfo, 0, len(file.Chains)),
		tokens:     make([]TokenInfo, 0, len(file.Tokens)),
		chainByKey: make(map[string]int, len(file.Chains)),
		chainByID:  make(map[uint64]int, len(file.Chains)),
		tokenBySym: make(map[string]int, len(file.Tokens)),
	}

	for _, chain := range file.Chains {
		chain.Key = normalizeKey(chain.Key)
		if err := validateChain(chain); err != nil {
			return nil, err
		}
		if _, dup := r.chainByKey[chain.Key]; dup {
			return nil, fmt.Errorf("duplicate chain key %q", chain.Key)
		}
		if _, dup := r.chainByID[chain.ID]; dup {
			return nil, fmt.Errorf("duplicate chain id %d", chain.ID)
		}
		chain.RPCURLs = slices.Clone(chain.RPCURLs)
		r.chainByKey[chain.Key] = len(r.chains)
		r.chainByID[chain.ID] = len(r.chains)
		r.chains = append(r.chains, chain)
	}

	for _, token := range file.Tokens {
		token.Symbol = normalizeSymbol(token.Symbol)
		if token.Symbol == "" {
			return nil, fmt.Errorf("token symbol is required")
		}
		if token.Decimals < 0 || token.Decimals > 36 {
			return nil, fmt.Errorf("token %s: decimals must be between 0 and 36", token.Symbol)
		}
		if _, dup := r.tokenBySym[token.Symbol]; dup {
			return nil, fmt.Errorf("duplicate token symbol %q", token.Symbol)
		}
		r.tokenBySym[token.Symbol] = len(r.tokens)
		r.tokens = append(r.tokens, token)
	}

	return r, nil
}

func validateChain(chain ChainInfo) error {
	if chain.Key == "" {
		return fmt.Errorf("chain key is required")
	}
	if chain.ID == 0 {
		return fmt.Errorf("chain %s: id is required", chain.Key)
	}
	if chain.Network != Mainnet && chain.Network != Testnet {
		return fmt.Errorf("chain %s: network must be %q or %q", chain.Key, Mainnet, Testnet)
	}
	if chain.RequiredConfirmations == 0 {
		return fmt.Errorf("chain %s: required_confirmations must be positive", chain.Key)
	}
	if chain.BridgeGasUSD.IsNegative() || chain.SwapGasUSD.IsNegative() {
		return fmt.Errorf("chain %s: gas estimates must not be negative", chain.Key)
	}
	return nil
}

// Parse decodes a registry file. format is "toml" or "json".
func Parse(data []byte, format string) (*Registry, error) {
	var file File
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse JSON registry: %w", err)
		}
	case "toml", "":
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse TOML registry: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported registry format %q", format)
	}
	return New(file)
}

// Default returns the built-in registry covering the mainnet and testnet chains
// the bridge supports.
func Default() (*Registry, error) {
	return Parse(defaultRegistry, "toml")
}

// ResolveChain finds a chain by its key, e.g. "sepolia" or "polygon-amoy".
func (r *Registry) ResolveChain(key string) (ChainInfo, error) {
	idx, ok := r.chainByKey[normalizeKey(key)]
	if !ok {
		return ChainInfo{}, fmt.Errorf("chain %q: %w", key, ErrNotFound)
	}
	return r.chains[idx].clone(), nil
}

// ResolveChainByID finds a chain by its EVM chain id.
func (r *Registry) ResolveChainByID(id uint64) (ChainInfo, error) {
	idx, ok := r.chainByID[id]
	if !ok {
		return ChainInfo{}, fmt.Errorf("chain id %d: %w", id, ErrNotFound)
	}
	return r.chains[idx].clone(), nil
}

// ResolveToken finds a token by symbol, case-insensitively.
func (r *Registry) ResolveToken(symbol string) (TokenInfo, error) {
	idx, ok := r.tokenBySym[normalizeSymbol(symbol)]
	if !ok {
		return TokenInfo{}, fmt.Errorf("token %q: %w", symbol, ErrNotFound)
	}
	return r.tokens[idx], nil
}

// Chains lists the chains of the given network in registry order. An empty network
// lists all of them.
func (r *Registry) Chains(network Network) []ChainInfo {
	out := make([]ChainInfo, 0, len(r.chains))
	for _, chain := range r.chains {
		if network == "" || chain.Network == network {
			out = append(out, chain.clone())
		}
	}
	return out
}

// Tokens lists every token in registry order.
func (r *Registry) Tokens() []TokenInfo {
	return slices.Clone(r.tokens)
}

// Restrict returns a registry containing only the chains of one network. The token
// list is shared.
func (r *Registry) Restrict(network Network) (*Registry, error) {
	if network == "" {
		return r, nil
	}
	return New(File{Chains: r.Chains(network), Tokens: r.Tokens()})
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
