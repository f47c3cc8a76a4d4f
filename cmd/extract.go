package cmd

import (
	"encoding/json"
	"path/filepath"

	"github.com/aqlanhadi/datsync/extractor"
	"github.com/spf13/cobra"
)

var recordsOnly bool

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extracts a single DAT file without side effects",
	Long: `Extracts records from one DAT file and prints them with the file's counters
as JSON. Ledgers, the processed-file set and the endpoint are left alone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ex, err := extractor.New(extractor.LoadConfig(), log)
		if err != nil {
			return err
		}

		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		res, err := ex.ExtractFile(path)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if recordsOnly {
			return enc.Encode(res.Records)
		}
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().BoolVar(&recordsOnly, "records-only", false, "print only the extracted records")
}
