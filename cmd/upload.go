package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	var allPending bool
	cmd := &cobra.Command{
		Use:   "upload [chunk-id...]",
		Short: "Upload chunks to the ingest service",
		Long: `Uploads the given chunk ids (at most 100), or with --all-pending every
pending and previously failed chunk in groups of 100.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			switch {
			case allPending && len(args) > 0:
				return closeOnError(cmd, errors.New("pass chunk ids or --all-pending, not both"))
			case allPending:
				sums, err := a.Uploads.UploadPending(cmd.Context())
				if err != nil {
					return closeOnError(cmd, fmt.Errorf("upload pending: %w", err))
				}
				return closeOnError(cmd, printJSON(cmd, sums))
			case len(args) == 0:
				return closeOnError(cmd, errors.New("no chunk ids given"))
			}
			sum, err := a.Uploads.Upload(cmd.Context(), args)
			if err != nil {
				return closeOnError(cmd, fmt.Errorf("upload: %w", err))
			}
			return closeOnError(cmd, printJSON(cmd, sum))
		},
	}
	cmd.Flags().BoolVar(&allPending, "all-pending", false, "upload every pending or failed chunk")
	return cmd
}
