package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newQuoteCmd(a *app) *cobra.Command {
	var req models.QuoteRequest
	cmd := &cobra.Command{
		Use:   "quote <amount> <token>",
		Short: "Price a transfer",
		Long: `Price a transfer of a token between chains, a swap on one chain, or both.

Examples:
  bridgectl quote 100 USDC --from sepolia --to polygon-amoy
  bridgectl quote 1 ETH --from arbitrum --to-token USDC
  bridgectl quote 250 USDT --from ethereum --to base --to-token ETH`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Amount = args[0]
			req.Token = args[1]

			var quote *models.QuoteResponse
			err := a.withSpinner(cmd.ErrOrStderr(), "Fetching quote...", func() error {
				var err error
				quote, err = a.client.ComputeQuote(cmd.Context(), &req)
				return err
			})
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), quote)
			}
			displayQuote(cmd.OutOrStdout(), quote)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.FromChain, "from", "f", "", "Source chain key, name or id")
	cmd.Flags().StringVarP(&req.ToChain, "to", "t", "", "Destination chain, defaults to the source chain")
	cmd.Flags().StringVar(&req.ToToken, "to-token", "", "Token to receive, defaults to the sent token")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newFeesCmd(a *app) *cobra.Command {
	var req models.FeeEstimateRequest
	cmd := &cobra.Command{
		Use:   "fees <token>",
		Short: "Show the fees of a route without pricing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Token = args[0]
			fees, err := a.client.EstimateFees(cmd.Context(), &req)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), fees)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "\n  Route:           %s\n", color.CyanString(fees.Route))
			fmt.Fprintf(w, "  Gas:             $%s\n", fees.GasCostUSD.StringFixed(2))
			fmt.Fprintf(w, "  Bridge Fee:      %s%%\n", fees.BridgeFeePercent.String())
			fmt.Fprintf(w, "  Slippage:        %s%%\n", fees.SlippagePercent.String())
			fmt.Fprintf(w, "  Total Fee:       %s%%\n", fees.TotalFeePercent.String())
			fmt.Fprintf(w, "  Estimated Time:  ~%d min\n", fees.EstimatedMinutes)
			displaySteps(w, fees.Steps)
			fmt.Fprintln(w)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.FromChain, "from", "f", "", "Source chain key, name or id")
	cmd.Flags().StringVarP(&req.ToChain, "to", "t", "", "Destination chain, defaults to the source chain")
	cmd.Flags().StringVar(&req.ToToken, "to-token", "", "Token to receive, defaults to the sent token")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func displayQuote(w io.Writer, q *models.QuoteResponse) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 70))
	color.New(color.FgGreen).Fprintln(w, "                           QUOTE")
	fmt.Fprintln(w, strings.Repeat("=", 70))

	toChain := q.ToChain
	if toChain == q.FromChain {
		toChain = q.FromChain + " (same chain)"
	}
	fmt.Fprintf(w, "\n  From:            %s %s on %s\n", q.InputAmount.String(), q.Token, color.CyanString(q.FromChain))
	fmt.Fprintf(w, "  To:              %s %s on %s\n", color.GreenString(q.MinOutputAmount.String()), q.ToToken, color.CyanString(toChain))
	if !q.OutputAmount.Equal(q.MinOutputAmount) {
		fmt.Fprintf(w, "  Exact Output:    %s %s\n", q.OutputAmount.String(), q.ToToken)
	}
	fmt.Fprintf(w, "  Rate:            1 %s = %s %s\n", q.Token, q.ExchangeRate.Round(8).String(), q.ToToken)
	fmt.Fprintf(w, "  Value:           $%s\n", q.InputValueUSD.StringFixed(2))
	fmt.Fprintf(w, "  Route:           %s\n", q.Route)
	fmt.Fprintf(w, "  Total Fee:       %s%% (gas $%s)\n", q.TotalFeePercent.String(), q.GasCostUSD.StringFixed(2))
	fmt.Fprintf(w, "  Estimated Time:  ~%d min\n", q.EstimatedMinutes)
	fmt.Fprintf(w, "  Confidence:      %s\n", coloredConfidence(q.Confidence))
	if q.StalePrices {
		color.New(color.FgYellow).Fprintln(w, "  Prices were unavailable, cached values were used")
	}
	displaySteps(w, q.Steps)
	fmt.Fprintf(w, "\n  Quote %s expires at %s\n", color.HiBlackString(q.ID), q.ExpiresAt.Local().Format("15:04:05"))
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 70))
}

func displaySteps(w io.Writer, steps []models.RouteStep) {
	if len(steps) == 0 {
		return
	}
	fmt.Fprintln(w, "\n  Steps:")
	for i, step := range steps {
		switch step.Kind {
		case "bridge":
			fmt.Fprintf(w, "    %d. bridge %s %s -> %s (~%d min)\n", i+1, step.FromToken, step.FromChain, step.ToChain, step.EstimatedMinutes)
		default:
			fmt.Fprintf(w, "    %d. swap %s -> %s on %s (~%d min)\n", i+1, step.FromToken, step.ToToken, step.FromChain, step.EstimatedMinutes)
		}
	}
}

func coloredConfidence(c float64) string {
	text := fmt.Sprintf("%.0f%%", c*100)
	switch {
	case c >= 0.9:
		return color.GreenString(text)
	case c >= 0.7:
		return color.YellowString(text)
	default:
		return color.RedString(text)
	}
}
