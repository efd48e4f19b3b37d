/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ras-rm/auth-service/internal/server"
	"github.com/ras-rm/auth-service/internal/services"
	"github.com/ras-rm/auth-service/types"
)

var notifyStage string

// batchCmd groups the retention sweeps for scheduler invocation.
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run data retention sweeps",
}

var batchNotifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send due-deletion notifications",
	Long: `Send due-deletion notifications. Without --stage the third, second and
first stages run in that order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stages := []types.Stage{types.StageThird, types.StageSecond, types.StageFirst}
		if notifyStage != "" {
			stage, err := types.ParseStage(notifyStage)
			if err != nil {
				return err
			}
			stages = []types.Stage{stage}
		}

		return withBatch(cmd.Context(), func(ctx context.Context, batch *services.BatchService, logger *zap.Logger) error {
			var failed int
			for _, stage := range stages {
				report, err := batch.RunNotificationStage(ctx, stage)
				if err != nil {
					return fmt.Errorf("%s notification: %w", stage, err)
				}
				failed += len(report.Failures)
			}
			if failed > 0 {
				logger.Warn("some notifications were not sent and will be retried", zap.Int("failed", failed))
			}
			return nil
		})
	},
}

var batchMarkCmd = &cobra.Command{
	Use:   "mark-for-deletion",
	Short: "Mark inactive and unverified accounts for deletion",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBatch(cmd.Context(), func(ctx context.Context, batch *services.BatchService, logger *zap.Logger) error {
			_, err := batch.RunMarkForDeletionSweep(ctx)
			return err
		})
	},
}

var batchDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete accounts marked for deletion",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBatch(cmd.Context(), func(ctx context.Context, batch *services.BatchService, logger *zap.Logger) error {
			_, err := batch.RunHardDeleteSweep(ctx)
			if errors.Is(err, services.ErrNoAccountsPending) {
				return nil
			}
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchNotifyCmd.Flags().StringVar(&notifyStage, "stage", "", "notification stage to run (first, second or third)")
	batchCmd.AddCommand(batchNotifyCmd)
	batchCmd.AddCommand(batchMarkCmd)
	batchCmd.AddCommand(batchDeleteCmd)
}

func withBatch(ctx context.Context, run func(context.Context, *services.BatchService, *zap.Logger) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise batch run", zap.Error(err))
		return err
	}
	defer func() { _ = app.Close() }()

	return run(ctx, app.Batch, logger)
}
