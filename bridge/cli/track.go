package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newTrackCmd(a *app) *cobra.Command {
	var (
		req      models.StartTrackingRequest
		watch    bool
		interval time.Duration
		keep     bool
	)
	cmd := &cobra.Command{
		Use:   "track <tx-hash>",
		Short: "Follow a submitted transaction",
		Long: `Register a submitted transaction with the server and print its progress.

Without --watch the command polls once and prints the handle, which can be used
with "bridgectl status" later. With --watch it polls until the transfer completes
or fails.

Examples:
  bridgectl track 0xabc... --from sepolia --to polygon-amoy
  bridgectl track 0xabc... --from sepolia --to polygon-amoy --watch --interval 10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TxHash = args[0]
			ctx := cmd.Context()

			started, err := a.client.StartTracking(ctx, &req)
			if err != nil {
				return err
			}
			if !watch {
				status, err := a.client.PollTracking(ctx, started.Handle)
				if err != nil {
					return err
				}
				return a.printStatus(cmd.OutOrStdout(), status)
			}

			if !keep {
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.Timeout)
					defer cancel()
					_ = a.client.StopTracking(stopCtx, started.Handle)
				}()
			}
			if interval <= 0 {
				interval = a.config.Interval
			}
			return a.watchStatus(ctx, cmd.OutOrStdout(), started.Handle, interval)
		},
	}

	cmd.Flags().StringVarP(&req.FromChain, "from", "f", "", "Chain the transaction was submitted on")
	cmd.Flags().StringVarP(&req.ToChain, "to", "t", "", "Destination chain of a bridge transfer")
	cmd.Flags().StringVar(&req.DestinationTxHash, "dest-tx", "", "Destination transaction hash, if already known")
	cmd.Flags().StringVar(&req.Token, "token", "", "Token sent, used for the server ETA")
	cmd.Flags().StringVar(&req.ToToken, "to-token", "", "Token received, if swapped on arrival")
	cmd.Flags().Int64Var(&req.ExpectedSeconds, "expected", 0, "Expected duration in seconds, e.g. from a quote")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the transfer completes or fails")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval when watching, defaults to the config")
	cmd.Flags().BoolVar(&keep, "keep", false, "Leave the transaction tracked on the server after watching")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status <handle>",
		Short: "Poll a tracked transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				if interval <= 0 {
					interval = a.config.Interval
				}
				return a.watchStatus(cmd.Context(), cmd.OutOrStdout(), args[0], interval)
			}
			status, err := a.client.PollTracking(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printStatus(cmd.OutOrStdout(), status)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the transfer completes or fails")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval when watching, defaults to the config")
	return cmd
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <handle>",
		Short: "Stop tracking a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.StopTracking(cmd.Context(), args[0]); err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{"handle": args[0], "stopped": "true"})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped tracking %s\n", args[0])
			return nil
		},
	}
}

// watchStatus polls on a ticker and prints every snapshot until the transaction is
// terminal. Transient poll errors are printed and retried.
func (a *app) watchStatus(ctx context.Context, w io.Writer, handle string, interval time.Duration) error {
	if !a.jsonOutput {
		fmt.Fprintf(w, "\nWatching transfer (Handle: %s)\n", color.CyanString(handle))
		fmt.Fprintf(w, "Checking every %s. Press Ctrl+C to stop.\n", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := a.client.PollTracking(ctx, handle)
		switch {
		case err == nil:
			if err := a.printStatus(w, status); err != nil {
				return err
			}
			if status.Terminal {
				if status.Status == "failed" {
					return fmt.Errorf("transfer failed: %s", status.FailureReason)
				}
				return nil
			}
		case ctx.Err() != nil:
			return ctx.Err()
		case isNotFound(err):
			return err
		default:
			fmt.Fprintln(w, color.RedString("Error: %v", err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func isNotFound(err error) bool {
	var connectErr *connect.Error
	return errors.As(err, &connectErr) && connectErr.Code() == connect.CodeNotFound
}

func (a *app) printStatus(w io.Writer, s *models.TrackingStatus) error {
	if a.jsonOutput {
		return printJSON(w, s)
	}
	displayStatus(w, s)
	return nil
}

func displayStatus(w io.Writer, s *models.TrackingStatus) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 70))
	color.New(color.FgGreen).Fprintln(w, "                        TRANSFER STATUS")
	fmt.Fprintln(w, strings.Repeat("=", 70))

	fmt.Fprintf(w, "\n  Handle:          %s\n", color.CyanString(s.Handle))
	fmt.Fprintf(w, "  Status:          %s\n", getColoredStatus(s.Status))
	fmt.Fprintf(w, "  Progress:        %s %d%%\n", progressBar(s.Progress), s.Progress)
	fmt.Fprintf(w, "  Message:         %s\n", s.Message)
	if !s.Terminal {
		fmt.Fprintf(w, "  ETA:             %s\n", time.Duration(s.ETASeconds)*time.Second)
	}
	fmt.Fprintf(w, "  Source Tx:       %s\n", color.HiBlackString(s.TxHash))
	if s.SourceExplorerURL != "" {
		fmt.Fprintf(w, "                   %s\n", s.SourceExplorerURL)
	}
	if s.DestinationTxHash != "" {
		fmt.Fprintf(w, "  Destination Tx:  %s\n", color.HiBlackString(s.DestinationTxHash))
		if s.DestinationExplorerURL != "" {
			fmt.Fprintf(w, "                   %s\n", s.DestinationExplorerURL)
		}
	}
	fmt.Fprintf(w, "  Last Updated:    %s\n", s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 70))
}

func getColoredStatus(status string) string {
	label := strings.ToUpper(status)
	switch status {
	case "complete":
		return color.GreenString(label)
	case "pending", "source_confirmed":
		return color.YellowString(label)
	case "bridging":
		return color.MagentaString(label)
	case "failed":
		return color.RedString(label)
	default:
		return label
	}
}

func progressBar(progress int) string {
	const width = 20
	filled := progress * width / 100
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}
