package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/chatdesk/internal/retention"
)

func newInsightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Insight signal commands",
	}
	cmd.AddCommand(newInsightsPruneCmd())
	return cmd
}

func newInsightsPruneCmd() *cobra.Command {
	var (
		dsn       string
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete insight signals older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsightsPrune(cmd, dsn, olderThan)
		},
	}

	addDatabaseFlag(cmd, &dsn)
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "retention period")
	return cmd
}

func runInsightsPrune(cmd *cobra.Command, dsn string, olderThan time.Duration) error {
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive, got %s", olderThan)
	}

	repo, err := openStore(dsn)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Warn("failed to close database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	n, err := retention.NewWorker(repo, olderThan).RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d insight signals older than %s\n", n, olderThan)
	return nil
}
