package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/minhdn/ragserve/internal/ingest"
	"github.com/minhdn/ragserve/internal/output"
)

func newIngestCmd() *cobra.Command {
	var watch bool
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "ingest [folder]",
		Short: "Index a folder of documents",
		Long: `Index a folder of documents into the retrieval channels.

Unchanged files (same content hash) are skipped, so re-running on the
same folder is cheap. With --watch the command keeps running and
re-ingests when files change.

Examples:
  ragserve ingest ./docs
  ragserve ingest ./docs --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := ""
			if len(args) > 0 {
				folder = args[0]
			}
			return runIngest(cmd, folder, watch, debounce)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Watch the folder and re-ingest on changes")
	cmd.Flags().DurationVar(&debounce, "debounce", ingest.DefaultDebounce, "Quiet period before a watched re-ingest")

	return cmd
}

func runIngest(cmd *cobra.Command, folder string, watch bool, debounce time.Duration) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if folder == "" {
		folder = a.cfg.Ingest.DataFolder
	}
	a.pipeline.ShowProgress = true

	report, err := a.pipeline.Run(cmd.Context(), folder)
	if err != nil {
		return err
	}
	if err := a.saveVectorIndex(); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("scanned %d files: %d ingested, %d skipped, %d failed (%d chunks, %s)",
		report.Scanned, report.Ingested, report.Skipped, report.Failed,
		report.Chunks, report.Elapsed.Round(time.Millisecond))

	if !watch {
		return nil
	}

	out.Infof("watching %s for changes (Ctrl-C to stop)", folder)
	watcher := ingest.NewWatcher(a.pipeline, folder, debounce, slog.Default())
	return watcher.Run(cmd.Context())
}
