package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashureev/chatdesk/internal/prefs"
)

func newPrefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Preference commands",
	}
	cmd.AddCommand(newPrefsShowCmd())
	return cmd
}

func newPrefsShowCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print a user's normalized pinned sessions and titles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrefsShow(cmd, dsn, args[0])
		},
	}

	addDatabaseFlag(cmd, &dsn)
	return cmd
}

func runPrefsShow(cmd *cobra.Command, dsn, userID string) error {
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

	svc := prefs.NewService(repo)
	pinned, err := svc.PinnedSessions(ctx, userID)
	if err != nil {
		return fmt.Errorf("load pinned sessions: %w", err)
	}
	titles, err := svc.SessionTitles(ctx, userID)
	if err != nil {
		return fmt.Errorf("load session titles: %w", err)
	}

	return writeJSON(cmd.OutOrStdout(), map[string]any{
		"userId":         userID,
		"pinnedSessions": pinned,
		"sessionTitles":  titles,
	})
}
