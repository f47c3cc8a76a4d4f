package cmd

import (
	"fmt"

	"github.com/aqlanhadi/datsync/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	processAll bool
	noTransmit bool
	download   bool
	workers    int
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Processes new DAT files into daily ledgers",
	Long: `Scans the input directory for DAT files that have not been processed yet,
merges their records into the per-date CSV ledgers and forwards the new rows.

Examples:
  datsync process
  datsync process --input /srv/dat/inbox --workers 4
  datsync process --all --no-transmit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		comps, err := buildComponents(ctx, !noTransmit)
		if err != nil {
			return err
		}
		defer comps.Close()

		cfg := pipeline.LoadConfig()
		cfg.ProcessAll = processAll
		cfg.Download = download
		if workers > 0 {
			cfg.Workers = workers
		}

		sum, err := comps.runner(cfg).Run(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%d file(s) processed, %d skipped, %d failed; %d record(s) extracted, %d new; %d/%d transmission(s) delivered\n",
			sum.FilesProcessed, sum.FilesSkipped, sum.FilesFailed,
			sum.RecordsExtracted, sum.RecordsNew,
			sum.TransmissionsSucceeded, sum.TransmissionsAttempted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringP("input", "i", "", "directory scanned for DAT files (overrides paths.input_dir)")
	processCmd.Flags().BoolVar(&processAll, "all", false, "reprocess files already marked as processed")
	processCmd.Flags().BoolVar(&noTransmit, "no-transmit", false, "update ledgers without forwarding")
	processCmd.Flags().BoolVar(&download, "download", false, "run the download script before scanning")
	processCmd.Flags().IntVarP(&workers, "workers", "w", 0, "files extracted in parallel (overrides pipeline.workers)")
	viper.BindPFlag("paths.input_dir", processCmd.Flags().Lookup("input"))
}
