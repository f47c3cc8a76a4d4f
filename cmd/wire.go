package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aqlanhadi/datsync/dedup"
	"github.com/aqlanhadi/datsync/extractor"
	"github.com/aqlanhadi/datsync/hooks"
	"github.com/aqlanhadi/datsync/integrations/postgres"
	"github.com/aqlanhadi/datsync/ledger"
	"github.com/aqlanhadi/datsync/pipeline"
	"github.com/aqlanhadi/datsync/transmit"
)

// components is everything a command needs, built from viper.
type components struct {
	store     dedup.Store
	db        *postgres.DB
	extractor *extractor.Extractor
	ledger    *ledger.Ledger
	audit     *transmit.AuditLog
	forwarder *transmit.Forwarder
}

func buildComponents(ctx context.Context, withTransmit bool) (*components, error) {
	c := &components{}

	ex, err := extractor.New(extractor.LoadConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("extractor config: %w", err)
	}
	c.extractor = ex

	c.store, c.db, err = openStore(ctx, dedup.LoadConfig())
	if err != nil {
		return nil, err
	}

	if c.ledger, err = ledger.New(ledger.LoadConfig(), log); err != nil {
		c.Close()
		return nil, err
	}

	tcfg := transmit.LoadConfig()
	if c.audit, err = transmit.OpenAuditLog(tcfg.AuditDir); err != nil {
		c.Close()
		return nil, err
	}

	if withTransmit && tcfg.Enabled {
		if tcfg.Endpoint == "" {
			log.Warn().Msg("transmit.endpoint is empty, forwarding disabled")
			return c, nil
		}
		var sinks []transmit.Sink
		if c.db != nil {
			sinks = append(sinks, c.db)
		}
		if c.forwarder, err = transmit.New(tcfg, c.audit, log, sinks...); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func openStore(ctx context.Context, cfg dedup.Config) (dedup.Store, *postgres.DB, error) {
	if cfg.Backend != dedup.BackendPostgres {
		store, err := dedup.Open(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open dedup store: %w", err)
		}
		return store, nil, nil
	}

	url := cfg.DatabaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return nil, nil, errors.New("dedup.database_url or DATABASE_URL is required for the postgres backend")
	}
	db, err := postgres.Open(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return db, db, nil
}

// runner builds the pipeline. Forwarding is attached only when a
// forwarder was configured.
func (c *components) runner(cfg pipeline.Config) *pipeline.Runner {
	var opts []pipeline.Option
	if c.forwarder != nil {
		opts = append(opts, pipeline.WithSender(c.forwarder))
	}
	if cfg.Download {
		hcfg := hooks.LoadConfig()
		if hcfg.DownloadScript == "" {
			log.Warn().Msg("download requested but hooks.download_script is empty")
		} else {
			opts = append(opts, pipeline.WithDownloader(hooks.ScriptDownloader{
				Script:  hcfg.DownloadScript,
				Dir:     cfg.InputDir,
				Timeout: hcfg.Timeout,
				Log:     log,
			}))
		}
	}
	return pipeline.New(cfg, c.extractor, c.store, c.ledger, log, opts...)
}

func (c *components) Close() {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			log.Warn().Err(err).Msg("closing dedup store")
		}
	}
}
