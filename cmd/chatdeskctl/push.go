package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashureev/chatdesk/internal/config"
	"github.com/ashureev/chatdesk/internal/push"
)

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Web push commands",
	}
	cmd.AddCommand(newPushSendCmd())
	return cmd
}

func newPushSendCmd() *cobra.Command {
	var n push.Notification

	cmd := &cobra.Command{
		Use:   "send <session-key>",
		Short: "Fan a notification out to a session's peer",
		Long:  "Reads database and VAPID settings from the environment, like the server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n.SessionKey = args[0]
			return runPushSend(cmd, n)
		},
	}

	cmd.Flags().StringVar(&n.Title, "title", "", "notification title")
	cmd.Flags().StringVar(&n.Body, "body", "", "notification body")
	cmd.Flags().StringVar(&n.URL, "url", "", "URL opened on click")
	cmd.Flags().StringVar(&n.Tag, "tag", "", "notification tag")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func runPushSend(cmd *cobra.Command, n push.Notification) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.Push.Enabled() {
		return errors.New("push delivery is not configured: set VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY")
	}

	repo, err := openStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Warn("failed to close database", "error", closeErr)
		}
	}()

	sender := push.NewWebPushSender(push.VAPIDConfig{
		PublicKey:  cfg.Push.VAPIDPublicKey,
		PrivateKey: cfg.Push.VAPIDPrivateKey,
		Subject:    cfg.Push.VAPIDSubject,
		TTL:        cfg.Push.TTL,
	})
	dispatcher := push.NewDispatcher(repo, sender, push.WithConcurrency(cfg.Push.Concurrency))
	svc := push.NewService(repo, dispatcher, cfg.AgentID)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := svc.Send(ctx, n)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return writeJSON(cmd.OutOrStdout(), res)
}
