package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/spf13/cobra"
)

var pinsCmd = &cobra.Command{
	Use:   "pins",
	Short: "Manage saved pins",
}

var pinsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the pins in the configured pin store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, closeStore, err := cfg.pinStore()
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				logger.Error("Failed to close pin store", slog.String(logging.ErrKey, err.Error()))
			}
		}()
		if store == nil {
			return fmt.Errorf("no pin store configured")
		}

		list, err := store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("error listing pins: %w", err)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pins saved.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tLAT\tLON")
		for _, p := range list {
			fmt.Fprintf(tw, "%s\t%.6f\t%.6f\n", p.Label, p.Lat, p.Lon)
		}
		return tw.Flush()
	},
}

func init() {
	pinsCmd.AddCommand(pinsListCmd)
}
