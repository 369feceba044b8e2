package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newChainsCmd(a *app) *cobra.Command {
	var network string
	cmd := &cobra.Command{
		Use:   "chains",
		Short: "List supported chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var chains []models.Chain
			err := a.withSpinner(cmd.ErrOrStderr(), "Fetching chains...", func() error {
				var err error
				chains, err = a.client.ListChains(cmd.Context(), network)
				return err
			})
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), chains)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tID\tNAME\tNETWORK\tCONFIRMATIONS\tBRIDGE GAS")
			for _, c := range chains {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t$%s\n",
					color.CyanString(c.Key), c.ID, c.Name, c.Network, c.RequiredConfirmations, c.BridgeGasUSD.StringFixed(2))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d chains\n", len(chains))
			return nil
		},
	}
	cmd.Flags().StringVarP(&network, "network", "n", "", "Filter by network (mainnet or testnet)")
	return cmd
}

func newTokensCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "tokens",
		Aliases: []string{"list-tokens"},
		Short:   "List supported tokens",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := a.client.ListTokens(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), tokens)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SYMBOL\tNAME\tDECIMALS\tSTABLE")
			for _, t := range tokens {
				stable := ""
				if t.Stable {
					stable = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", color.CyanString(t.Symbol), t.Name, t.Decimals, stable)
			}
			return tw.Flush()
		},
	}
}
