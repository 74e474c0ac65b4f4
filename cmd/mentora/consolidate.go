package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mentora-ai/mentora/config"
	"github.com/mentora-ai/mentora/internal/memory/ltm"
	"github.com/mentora-ai/mentora/internal/store"
	"github.com/mentora-ai/mentora/internal/telemetry"
)

func consolidateCMD() *cobra.Command {
	var cfgPath string
	var userID string

	var consolidate = &cobra.Command{
		Use:   "consolidate",
		Short: "Run one consolidation sweep for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			cfg := config.LoadConfig(cfgPath)

			ctx := context.Background()
			st, err := store.New(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.Close()

			repo := ltm.NewRepository(st, time.Now)
			cons := ltm.NewConsolidator(repo, st, ltm.ConsolidatorOptions{
				MinNewAttempts: cfg.Memory.Consolidation.MinNewAttempts,
				MaxScan:        cfg.Memory.Consolidation.MaxScan,
			}, telemetry.NewLogger("[CONSOLIDATE] "))

			res, err := cons.ConsolidateUser(ctx, userID)
			if err != nil {
				return err
			}
			if !res.Consolidated {
				fmt.Printf("skipped: %s (scanned %d)\n", res.Reason, res.Scanned)
				return nil
			}
			fmt.Printf("consolidated %d buckets from %d attempts (checkpoint %d)\n",
				res.Buckets, res.Scanned, res.NewLastAttemptID)
			return nil
		},
	}
	consolidate.Flags().StringVar(&userID, "user", "", "user id to consolidate")
	consolidate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return consolidate
}
