package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand. Without --source every
// configured source is crawled, one after another.
func newCrawlCmd() *cobra.Command {
	var sourceIDs []string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl configured sources into the review queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return closeOnError(cmd, runCrawl(cmd, sourceIDs))
		},
	}
	cmd.Flags().StringArrayVar(&sourceIDs, "source", nil, "source id to crawl (repeatable)")
	return cmd
}

func runCrawl(cmd *cobra.Command, sourceIDs []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := a.Config()

	var sources []crawler.SourceConfig
	if len(sourceIDs) == 0 {
		sources = cfg.SourceConfigs()
	} else {
		for _, id := range sourceIDs {
			src, ok := cfg.Source(id)
			if !ok {
				return fmt.Errorf("unknown source %q", id)
			}
			sources = append(sources, src)
		}
	}
	if len(sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sums, err := a.Orchestrator.Crawl(ctx, sources)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	for _, sum := range sums {
		a.Logger().Info("crawl summary",
			zap.String("source_id", sum.SourceID),
			zap.Int("total_fetched", sum.TotalFetched),
			zap.Int("documents", sum.Documents),
			zap.Int("failed", sum.Failed),
		)
	}
	return printJSON(cmd, sums)
}
