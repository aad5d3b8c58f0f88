package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minhdn/ragserve/internal/output"
	"github.com/minhdn/ragserve/internal/retrieval"
)

type searchOptions struct {
	topK       int
	alpha      float64
	kRRF       int
	skipRerank bool
	format     string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documents",
		Long: `Search the indexed documents with hybrid retrieval.

Combines keyword and semantic search with reciprocal rank fusion, then
reranks with a cross-encoder when one is configured.

Examples:
  ragserve search "refund policy"
  ragserve search "api timeout" --top-k 10 --format json
  ragserve search "release notes" --skip-rerank`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 0, "Number of results (default from config)")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", -1, "Rerank/RRF blend weight in [0,1]")
	cmd.Flags().IntVar(&opts.kRRF, "k-rrf", 0, "RRF smoothing constant (default from config)")
	cmd.Flags().BoolVar(&opts.skipRerank, "skip-rerank", false, "Rank by RRF only")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	searchOpts := retrieval.Options{
		KRRF:       opts.kRRF,
		SkipRerank: opts.skipRerank,
	}
	if cmd.Flags().Changed("top-k") {
		searchOpts.TopK = opts.topK
		searchOpts.TopKSet = true
	}
	if opts.alpha >= 0 {
		searchOpts.Alpha = opts.alpha
		searchOpts.AlphaSet = true
	}

	resp, err := a.orch.Search(cmd.Context(), query, searchOpts)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	out := output.New(cmd.OutOrStdout())
	if len(resp.Results) == 0 {
		out.Info("No results.")
		return nil
	}
	if resp.RerankDegraded {
		out.Warning("reranker unavailable, showing fusion order")
	}
	for i, r := range resp.Results {
		out.Result(i+1, r.FinalScore, snippet(r.Text, 120))
	}
	return nil
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-3]) + "..."
}
