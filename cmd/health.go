package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the ingest service is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Remote.Health(cmd.Context()); err != nil {
				return closeOnError(cmd, fmt.Errorf("ingest health: %w", err))
			}
			return closeOnError(cmd, printJSON(cmd, map[string]string{"status": "ok"}))
		},
	}
}
