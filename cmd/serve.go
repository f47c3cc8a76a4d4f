package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aqlanhadi/datsync/api"
	"github.com/aqlanhadi/datsync/hooks"
	"github.com/aqlanhadi/datsync/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP API server",
	Long: `Starts the dashboard API: dry-run extraction of uploaded DAT files, ledger
and transmission read-back, and on-demand runs. Clients are checked
against the allow-list binary when one is configured.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		comps, err := buildComponents(ctx, true)
		if err != nil {
			return err
		}
		defer comps.Close()

		server := api.New(api.LoadConfig(), api.Deps{
			Extractor: comps.extractor,
			Ledger:    comps.ledger,
			Audit:     comps.audit,
			Runner:    comps.runner(pipeline.LoadConfig()),
			AllowList: hooks.NewAllowList(hooks.LoadConfig()),
		}, log)
		return server.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("port", "p", "", "address to listen on, e.g. :8080 (overrides server.port)")
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
