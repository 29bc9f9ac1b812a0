package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ddunnock/mnemosyne/internal/index"
	"github.com/ddunnock/mnemosyne/internal/rag"
)

var (
	flagQueryTopK      int
	flagQueryThreshold float64
	flagQueryStrategy  string
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Run a direct retrieval against the index, without any agent",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&flagQueryTopK, "top-k", 0, "number of results (0 = config default)")
	queryCmd.Flags().Float64Var(&flagQueryThreshold, "threshold", -1, "minimum score (-1 = config default)")
	queryCmd.Flags().StringVar(&flagQueryStrategy, "strategy", "", "semantic, keyword or hybrid (default from config)")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	p, err := openPlatform(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	opts := rag.RetrieveOptions{
		TopK:     flagQueryTopK,
		Strategy: index.Strategy(flagQueryStrategy),
	}
	if flagQueryThreshold >= 0 {
		opts.ScoreThreshold = &flagQueryThreshold
	}

	results, err := p.Query(cmd.Context(), strings.Join(args, " "), opts)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for _, r := range results {
		ch := r.Entry.Chunk
		title := ch.DocTitle
		if len(ch.SectionPath) > 0 {
			title += " > " + strings.Join(ch.SectionPath, " > ")
		}
		fmt.Printf("%d. %s (%.2f)\n", r.Rank, title, r.Score)

		text := strings.TrimSpace(ch.Text)
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		fmt.Printf("   %s\n", strings.ReplaceAll(text, "\n", " "))
	}
	return nil
}
