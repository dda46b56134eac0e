package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/datapull/internal/review"
)

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List, approve and reject extracted documents",
	}
	cmd.AddCommand(newReviewListCmd(), newReviewDecisionCmd(true), newReviewDecisionCmd(false), newReviewStatsCmd())
	return cmd
}

func newReviewListCmd() *cobra.Command {
	var (
		status   string
		sourceID string
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List review records, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			switch review.Status(status) {
			case "", review.StatusPending, review.StatusApproved, review.StatusRejected:
			default:
				return closeOnError(cmd, fmt.Errorf("unknown status %q", status))
			}
			listed := a.Reviews.List(review.Filter{Status: review.Status(status), SourceID: sourceID}, page, pageSize)
			return closeOnError(cmd, printJSON(cmd, listed))
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, approved, rejected)")
	cmd.Flags().StringVar(&sourceID, "source", "", "filter by source id")
	cmd.Flags().IntVar(&page, "page", 1, "1-based page")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "records per page")
	return cmd
}

// newReviewDecisionCmd builds approve or reject. Several ids form a batch
// where each id is decided on its own.
func newReviewDecisionCmd(approve bool) *cobra.Command {
	use, short := "reject <id>...", "Reject pending documents"
	if approve {
		use, short = "approve <id>...", "Approve pending documents and chunk them"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) > 1 {
				var res review.BatchResult
				if approve {
					res = a.Reviews.BatchApprove(args)
				} else {
					res = a.Reviews.BatchReject(args)
				}
				return closeOnError(cmd, printJSON(cmd, res))
			}
			if approve {
				approval, err := a.Reviews.Approve(args[0])
				if err != nil {
					return closeOnError(cmd, fmt.Errorf("approve %s: %w", args[0], err))
				}
				return closeOnError(cmd, printJSON(cmd, approval))
			}
			rec, err := a.Reviews.Reject(args[0])
			if err != nil {
				return closeOnError(cmd, fmt.Errorf("reject %s: %w", args[0], err))
			}
			return closeOnError(cmd, printJSON(cmd, rec))
		},
	}
}

func newReviewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count review records and chunks by status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return closeOnError(cmd, printJSON(cmd, map[string]any{
				"reviews": a.Reviews.Stats(),
				"chunks":  a.Chunks.Stats(),
			}))
		},
	}
}
