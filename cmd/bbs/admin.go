package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"bbs/internal/retention"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if cfg.IsMemory() {
		return errors.New("migrate: memory store has no schema")
	}
	be, err := openBackend(cfg)
	if err != nil {
		log.Error().Err(err).Msg("migrate")
		return err
	}
	defer be.close()
	log.Info().Msg("schema up to date")
	fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	be, err := openBackend(cfg)
	if err != nil {
		log.Error().Err(err).Msg("prune")
		return err
	}
	defer be.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	j := retention.NewJanitor(be.store, cfg.Retention())
	if pruneEvery > 0 {
		err := j.Run(ctx, pruneEvery)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	n, err := j.PruneOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d messages older than %d days\n", n, cfg.RetentionDays)
	return nil
}
