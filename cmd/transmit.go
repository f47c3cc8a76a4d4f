package cmd

import (
	"errors"
	"fmt"

	"github.com/aqlanhadi/datsync/ledger"
	"github.com/aqlanhadi/datsync/pipeline"
	"github.com/spf13/cobra"
)

var transmitDate string

var transmitCmd = &cobra.Command{
	Use:   "transmit",
	Short: "Re-sends a full daily ledger",
	Long: `Sends every row of one daily ledger to the accounting endpoint again,
using the same retry policy and audit trail as a normal run.

Example:
  datsync transmit --date 20250710`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !ledger.ValidStamp(transmitDate) {
			return fmt.Errorf("%w: %q", ledger.ErrInvalidStamp, transmitDate)
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		comps, err := buildComponents(ctx, true)
		if err != nil {
			return err
		}
		defer comps.Close()

		out, err := comps.runner(pipeline.LoadConfig()).Retransmit(ctx, transmitDate)
		if errors.Is(err, pipeline.ErrTransmitDisabled) {
			return fmt.Errorf("%w: set transmit.enabled and transmit.endpoint", err)
		}
		if err != nil && out.Attempts == 0 {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d record(s), status %s after %d attempt(s), batch %s\n",
			out.Filename, out.Records, out.Status, out.Attempts, out.BatchID)
		return err
	},
}

func init() {
	rootCmd.AddCommand(transmitCmd)
	transmitCmd.Flags().StringVarP(&transmitDate, "date", "d", "", "ledger date as YYYYMMDD")
	transmitCmd.MarkFlagRequired("date")
}
