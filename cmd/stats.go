package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	p, err := openPlatform(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	stats, err := p.Stats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Entries:   %d\n", stats.RAG.TotalEntries)
	fmt.Printf("Model:     %s (%d dimensions)\n", stats.RAG.EmbeddingModel, stats.RAG.Dimension)
	fmt.Printf("Documents: %d\n", len(stats.RAG.PerDocument))
	fmt.Printf("Providers: %d (%d enabled)\n", stats.LLM.Total, stats.LLM.Enabled)
	fmt.Printf("Agents:    %d (%d enabled)\n", stats.Agents.Total, stats.Agents.Enabled)
	fmt.Printf("Ready:     %v\n", stats.Ready)

	if flagVerbose && len(stats.RAG.PerDocument) > 0 {
		docs := make([]string, 0, len(stats.RAG.PerDocument))
		for id := range stats.RAG.PerDocument {
			docs = append(docs, id)
		}
		sort.Strings(docs)
		fmt.Println("\nPer document:")
		for _, id := range docs {
			fmt.Printf("  %s: %d chunks\n", id, stats.RAG.PerDocument[id])
		}
	}
	return nil
}
