package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOperationsCmd() *cobra.Command {
	var (
		limit    int
		remote   bool
		sourceID string
	)
	cmd := &cobra.Command{
		Use:   "operations",
		Short: "List recent upload operations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if remote {
				ops, err := a.Remote.Operations(cmd.Context(), sourceID, limit)
				if err != nil {
					return closeOnError(cmd, fmt.Errorf("remote operations: %w", err))
				}
				return closeOnError(cmd, printJSON(cmd, ops))
			}
			records, err := a.Ops.List(cmd.Context(), limit)
			if err != nil {
				return closeOnError(cmd, fmt.Errorf("list operations: %w", err))
			}
			return closeOnError(cmd, printJSON(cmd, records))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum operations to show")
	cmd.Flags().BoolVar(&remote, "remote", false, "ask the ingest service instead of the local log")
	cmd.Flags().StringVar(&sourceID, "source", "", "filter remote operations by source id")
	return cmd
}
