package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mentora-ai/mentora/config"
	"github.com/mentora-ai/mentora/internal/memory/ltm"
	"github.com/mentora-ai/mentora/internal/recommend"
	"github.com/mentora-ai/mentora/internal/store"
	"github.com/mentora-ai/mentora/internal/telemetry"
)

func recommendCMD() *cobra.Command {
	var cfgPath string
	var userID string

	var rec = &cobra.Command{
		Use:   "recommend",
		Short: "Print the next recommended exercise for a user",
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
			eng := recommend.New(repo, st, recommend.Options{
				MinSample: cfg.Memory.Consolidation.MinSample,
			}, telemetry.NewLogger("[RECOMMEND] "))

			r, err := eng.Recommend(ctx, userID)
			if err != nil {
				return err
			}
			if r == nil {
				fmt.Println("no recommendation: not enough consolidated skill data")
				return nil
			}
			fmt.Printf("bucket=%s exercise=%d difficulty=%d band=[%d,%d] mode=%s\n",
				r.Bucket, r.Exercise.ID, r.Exercise.Difficulty, r.Band.Min, r.Band.Max, r.Mode)
			fmt.Println(r.Exercise.Question)
			return nil
		},
	}
	rec.Flags().StringVar(&userID, "user", "", "user id")
	rec.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return rec
}
