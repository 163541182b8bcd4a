// Command chatdeskctl performs one-off administration against a chatdesk
// database.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/chatdesk/internal/store"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const defaultDatabaseURL = "./data/chatdesk.db"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chatdeskctl",
		Short:        "Chatdesk administration",
		Long:         "Inspect and maintain a chatdesk database.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newPeerCmd())
	cmd.AddCommand(newPrefsCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newInsightsCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatdeskctl %s (commit: %s)\n", Version, Commit)
		},
	}
}

// addDatabaseFlag registers --database, defaulting to DATABASE_URL.
func addDatabaseFlag(cmd *cobra.Command, dsn *string) {
	cmd.Flags().StringVar(dsn, "database", envOr("DATABASE_URL", defaultDatabaseURL), "SQLite path or postgres:// URL")
}

func openStore(dsn string) (store.Repository, error) {
	repo, err := store.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dsn, err)
	}
	return repo, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	_ = godotenv.Load()
	os.Exit(execute(newRootCmd()))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
