package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagWatch bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index the vault into the vector store",
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&flagWatch, "watch", false, "keep watching the vault and reindex on changes")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	p, err := openPlatform(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	summaries, err := p.IngestVault(cmd.Context())
	if err != nil {
		return err
	}

	indexed, failed := 0, 0
	for _, s := range summaries {
		indexed += s.ChunksIndexed
		failed += len(s.FailedChunkIDs)
		if len(s.FailedChunkIDs) > 0 {
			fmt.Printf("  %s: %d chunks indexed, %d failed\n", s.DocTitle, s.ChunksIndexed, len(s.FailedChunkIDs))
		}
	}
	fmt.Printf("Ingested %d documents (%d chunks", len(summaries), indexed)
	if failed > 0 {
		fmt.Printf(", %d failed", failed)
	}
	fmt.Println(")")

	if flagWatch {
		fmt.Println("Watching for changes (Ctrl+C to stop)...")
		return p.Watch(cmd.Context())
	}
	return nil
}
