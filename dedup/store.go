// Package dedup records which DAT files have already been processed.
//
// The key is the bare filename. A re-delivered file under another name is
// not recognised.
package dedup

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
)

// Store is a persistent set of processed filenames. MarkProcessed is an
// atomic add: added is true only for the caller that inserted the name.
type Store interface {
	IsProcessed(ctx context.Context, filename string) (bool, error)
	MarkProcessed(ctx context.Context, filename string) (added bool, err error)
	Close() error
}

// Lister is implemented by stores that can enumerate their contents.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Forgetter is implemented by stores that can drop a name, so the next
// normal run processes that file again.
type Forgetter interface {
	Forget(ctx context.Context, filename string) error
}

// Backend names accepted by dedup.backend.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

type Config struct {
	Backend     string
	File        string
	DatabaseURL string
}

func LoadConfig() Config {
	cfg := Config{
		Backend:     viper.GetString("dedup.backend"),
		File:        viper.GetString("dedup.file"),
		DatabaseURL: viper.GetString("dedup.database_url"),
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendFile
	}
	return cfg
}

// Open builds the memory or file store. The postgres backend lives in
// integrations/postgres to keep the driver out of this package.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile, "":
		if cfg.File == "" {
			return nil, fmt.Errorf("dedup.file is required for the file backend")
		}
		return OpenFileStore(cfg.File)
	default:
		return nil, fmt.Errorf("unsupported dedup backend %q", cfg.Backend)
	}
}
