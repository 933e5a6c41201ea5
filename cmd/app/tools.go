package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"rebate/internal/infra"
	"rebate/internal/services"
)

func retryPayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry-payout [submission-id]",
		Short: "Run the payout for an approved submission once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid submission id: %w", err)
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")

			var review services.ReviewService
			app := fx.New(coreModules, fx.Populate(&review))
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			result, err := review.RetryPayout(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paid %s reference=%s batch=%s status=%s\n",
				result.SubmissionID, result.PayoutReference, result.BatchID, result.ItemStatus)
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 60*time.Second, "Overall timeout for the payout call")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the tables (development databases)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var db *gorm.DB
			app := fx.New(coreModules, fx.Populate(&db))
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()
			return infra.Migrate(db)
		},
	}
}
