package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aqlanhadi/datsync/logger"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Embedded default configuration. A config file only needs to carry the
// keys it overrides.
const defaultConfigYAML = `
paths:
  input_dir: ./inbox
  ledger_dir: ./ledgers
  audit_dir: ./audit
  lock_file: ./datsync.lock
extractor:
  marker: TRXCOPY
  status_pattern: '(?i)AUTH\s*CANCELL?ED\s*(\d{14})\s*(?:POS|ATM|MOB|WEB|USSD|IB)'
  transaction_id_pattern: '[A-Za-z][A-Za-z0-9]{4,}'
  shapes:
    - name: primary
      pattern: '(\d{8})\s*(\d{20})\s*(\d{9,12})'
    - name: alternative
      pattern: '(\d{8})\s*(\d{15,25})\s*(\d{8,12})'
  max_logged_errors: 5
  max_line_bytes: 1048576
dedup:
  backend: file
  file: ./state/processed_files.txt
  database_url: ""
transmit:
  enabled: true
  endpoint: ""
  timeout: 30s
  attempts: 3
  delay: 1s
  source: datsync
pipeline:
  workers: 1
hooks:
  allowlist_binary: ""
  download_script: ""
  timeout: 10s
server:
  port: ":8080"
log:
  level: info
  format: console
`

var (
	cfgFile string
	verbose bool
	log     = logger.Nop()

	rootCmd = &cobra.Command{
		Use:           "datsync",
		Short:         "Turns DAT transaction files into daily CSV ledgers",
		Long:          `datsync extracts cancelled-authorization records from bank DAT files, merges them into per-date CSV ledgers and forwards new rows to the accounting endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command. It exits with status 1 on error.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate("datsync version {{.Version}}\n")
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default is ./.datsync.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func initLogging() {
	level := viper.GetString("log.level")
	if verbose {
		level = zerolog.LevelDebugValue
	}
	log = logger.New(level, viper.GetString("log.format"))
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
		os.Exit(1)
	}

	viper.SetConfigType("yaml")
	if err := viper.ReadConfig(bytes.NewBufferString(defaultConfigYAML)); err != nil {
		fmt.Printf("Error loading embedded configuration: %v\n", err)
		os.Exit(1)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(".")
		viper.AddConfigPath(home)
		viper.SetConfigName(".datsync")
	}

	viper.SetEnvPrefix("DATSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Printf("Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}
