package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"jobmate/search-service/internal/scheduler"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the cache tables and routines",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := bootstrap()
		st, err := openStore(context.Background(), cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		fmt.Printf("schema up to date (%s)\n", cfg.Database.Driver)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stale searches and expire old listings once, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := bootstrap()
		ctx := context.Background()

		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := scheduler.New(st, cfg.Maintenance, logger).RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d search(es), expired %d listing(s)\n", stats.SearchesDeleted, stats.ListingsExpired)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, pruneCmd)
}
