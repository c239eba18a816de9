package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

const snippetRunes = 160

func newSearchCmd(env Environment) *cobra.Command {
	var (
		limit    int
		category string
		asJSON   bool
		viaBus   bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run a hybrid retrieval",
		Long: `Runs the full retrieval pipeline: classification, vector and keyword search,
rank fusion, relevance judging and parent enrichment.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			retriever, closeFn, err := env.Retriever(cmd.Context(), viaBus)
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := retriever.Retrieve(cmd.Context(), domain.RetrievalRequest{
				Query:    strings.Join(args, " "),
				Limit:    limit,
				Category: category,
			})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			if asJSON {
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal results: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			printResults(cmd, result)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of results (0 uses the configured default)")
	cmd.Flags().StringVar(&category, "category", "", "restrict results to one category")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	cmd.Flags().BoolVar(&viaBus, "via-nats", false, "send the request to a worker over NATS")
	return cmd
}

func printResults(cmd *cobra.Command, result *domain.RetrievalResult) {
	cmd.Printf("%s/%s, rerank %s, %d vector + %d keyword candidates\n",
		result.Classification.QueryType,
		result.Classification.Confidence,
		result.Stats.RerankOutcome,
		result.Stats.VectorCandidates,
		result.Stats.KeywordCandidates,
	)
	if len(result.Results) == 0 {
		cmd.Println("No results found.")
		return
	}
	cmd.Println()
	for _, item := range result.Results {
		signals := make([]string, 0, len(item.FoundBy))
		for _, s := range item.FoundBy {
			signals = append(signals, string(s))
		}
		cmd.Printf("  [%d] %s (%.4f, %s)\n", item.Rank, item.ID, item.FusionScore, strings.Join(signals, "+"))
		if locator := item.Metadata.Locator(); locator != "" {
			cmd.Printf("      %s\n", locator)
		}
		cmd.Printf("      %s\n", snippet(item.Content))
	}
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	return string(runes[:snippetRunes]) + "..."
}
