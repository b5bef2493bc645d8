// Command archivenode runs the chain archival indexer: it opens a
// read-only view onto a node's embedded ledger, opens a pool to the
// relational store, and drives the gap-generator / metadata / decoder
// / persister pipeline under supervision until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gateway-fm/cdk-erigon-lib/kv"
	"github.com/ledgerwatch/log/v3"
	"github.com/spf13/cobra"

	"github.com/gateway-fm/archive-node/internal/chaindb"
	"github.com/gateway-fm/archive-node/internal/config"
	"github.com/gateway-fm/archive-node/internal/decoder"
	"github.com/gateway-fm/archive-node/internal/ledgerview"
	"github.com/gateway-fm/archive-node/internal/logging"
	"github.com/gateway-fm/archive-node/internal/pipeline"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		dataDir        string
		logDir         string
		decodeReplicas int
		metaReplicas   int
		persistRepl    int
		poolSize       int
	)

	cmd := &cobra.Command{
		Use:   "archivenode",
		Short: "Index a chain's blocks and extrinsics into the relational archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.DataDir = dataDir
			if decodeReplicas > 0 {
				cfg.DecodeReplicas = decodeReplicas
			}
			if metaReplicas > 0 {
				cfg.MetaReplicas = metaReplicas
			}
			if persistRepl > 0 {
				cfg.PersistReplicas = persistRepl
			}
			if poolSize > 0 {
				cfg.BlockingPoolSize = poolSize
			}

			pg, err := config.FromEnv()
			if err != nil {
				return err
			}
			cfg.Postgres = pg

			return run(cmd.Context(), cfg, logDir)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dataDir, "datadir", "./data", "node data directory holding the embedded ledger")
	flags.StringVar(&logDir, "log-dir", "", "optional directory for rotated log files")
	flags.IntVar(&decodeReplicas, "decode-replicas", 0, "decoder stage worker count (default from config.Default)")
	flags.IntVar(&metaReplicas, "meta-replicas", 0, "metadata stage worker count (default from config.Default)")
	flags.IntVar(&persistRepl, "persist-replicas", 0, "persister stage worker count (default from config.Default)")
	flags.IntVar(&poolSize, "blocking-pool-size", 0, "dedicated blocking executor size (default from config.Default)")

	return cmd
}

func run(ctx context.Context, cfg config.Config, logDir string) error {
	logger := logging.New(logging.Options{
		ConsoleLevel: log.LvlInfo,
		FileLevel:    log.LvlDebug,
		DirPath:      logDir,
		FilePrefix:   "archivenode",
	})

	if err := config.EnsureDataDir(cfg.DataDir); err != nil {
		return err
	}

	pgURL, err := cfg.Postgres.BuildURL()
	if err != nil {
		return fmt.Errorf("building relational store URL: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	view, err := ledgerview.Open(cfg.DataDir, kv.TableCfg{ledgerview.BlocksColumn: kv.TableCfgItem{}}, logger)
	if err != nil {
		return fmt.Errorf("opening ledger view: %w", err)
	}
	defer view.Close()

	store, err := chaindb.Open(ctx, pgURL, logger)
	if err != nil {
		return fmt.Errorf("opening relational store: %w", err)
	}
	defer store.Close()

	sup := &pipeline.Supervisor{
		Config:  cfg,
		View:    view,
		Store:   store,
		Decoder: decoder.BasicDecoder{},
		PgURL:   pgURL,
		Logger:  logger,
	}

	logger.Info("archivenode starting", "datadir", cfg.DataDir, "decode_replicas", cfg.DecodeReplicas)
	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("pipeline exited: %w", err)
	}
	logger.Info("archivenode shut down")
	return nil
}
