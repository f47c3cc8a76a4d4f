package pipeline

import (
	"path/filepath"

	"github.com/spf13/viper"
)

type Config struct {
	InputDir string
	LockFile string
	Workers  int
	// ProcessAll bypasses the processed-file check for one run. Files are
	// still marked afterwards.
	ProcessAll bool
	Download   bool
}

func LoadConfig() Config {
	cfg := Config{
		InputDir: viper.GetString("paths.input_dir"),
		LockFile: viper.GetString("paths.lock_file"),
		Workers:  viper.GetInt("pipeline.workers"),
	}
	if cfg.LockFile == "" && cfg.InputDir != "" {
		cfg.LockFile = filepath.Join(cfg.InputDir, ".datsync.lock")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg
}
