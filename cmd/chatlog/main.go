package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "chatlog",
		Short:         "Command-line surface for chatlog sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("server", envOr("CHATLOG_SERVER", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().String("token", os.Getenv("CHATLOG_TOKEN"), "bearer token (defaults to $CHATLOG_TOKEN)")
	root.PersistentFlags().Bool("json", false, "print sessions as JSON")

	root.AddCommand(
		newListCmd(),
		newNewCmd(),
		newAskCmd(),
		newRetryCmd(),
		newRenameCmd(),
		newDeleteCmd(),
		newShowCmd(),
		newWatchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
