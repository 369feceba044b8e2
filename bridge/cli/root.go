package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/rpc"
	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	serverURL  string
	jsonOutput bool

	config *Config
	client *rpc.BridgeServiceClient
}

// NewRootCmd builds the bridgectl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "bridgectl",
		Short: "Quote and track cross-chain transfers",
		Long: `bridgectl talks to a bridge assistant server. It prices transfers between
supported EVM chains and follows submitted transactions until they land.

Examples:
  bridgectl quote 100 USDC --from sepolia --to polygon-amoy
  bridgectl quote 0.5 ETH --from base --to-token USDC
  bridgectl track 0xabc... --from sepolia --to arbitrum-sepolia --watch
  bridgectl chains --network testnet`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a bridgectl TOML config file")
	root.PersistentFlags().StringVar(&a.serverURL, "server", "", "Bridge server URL, overrides the config")
	root.PersistentFlags().BoolVarP(&a.jsonOutput, "json", "j", false, "Output in JSON format")

	root.AddCommand(
		newQuoteCmd(a),
		newFeesCmd(a),
		newTrackCmd(a),
		newStatusCmd(a),
		newStopCmd(a),
		newChainsCmd(a),
		newTokensCmd(a),
	)
	return root
}

// Execute runs bridgectl with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (a *app) setup() error {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.serverURL != "" {
		cfg.ServerURL = a.serverURL
	}
	a.config = cfg
	a.client = rpc.NewBridgeServiceClient(&http.Client{Timeout: cfg.Timeout}, cfg.ServerURL)
	return nil
}

// withSpinner runs fn behind a spinner unless the output is JSON.
func (a *app) withSpinner(w io.Writer, suffix string, fn func() error) error {
	if a.jsonOutput {
		return fn()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + suffix
	s.Start()
	err := fn()
	s.Stop()
	return err
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
