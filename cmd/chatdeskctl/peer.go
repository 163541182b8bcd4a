package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashureev/chatdesk/internal/push"
)

func newPeerCmd() *cobra.Command {
	var agentID string

	cmd := &cobra.Command{
		Use:   "peer <session-key>",
		Short: "Print the DM peer a session key routes to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, ok := push.ParsePeerID(args[0], agentID)
			if !ok {
				return fmt.Errorf("%q is not a direct-message session of agent %q", args[0], agentID)
			}
			fmt.Fprintln(cmd.OutOrStdout(), peer)
			return nil
		},
	}

	cmd.Flags().StringVar(&agentID, "agent-id", envOr("AGENT_ID", "main"), "agent whose session keys are accepted")
	return cmd
}
