// Package main provides the operator CLI for deployment and operations tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "0.2.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "operator",
		Short:         "petpal operator - deployment and operations CLI",
		SilenceUsage: true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newValidateCmd(),
		newChatCmd(),
		newReindexCmd(),
		newDeleteIndexCmd(),
		newListIndicesCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "petpal operator v%s\n", version)
			},
		},
	)
	return root
}
