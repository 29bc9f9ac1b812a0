package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ddunnock/mnemosyne/internal/agent"
)

var (
	flagAgent   string
	flagSession string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask an agent a question about your notes",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&flagAgent, "agent", agent.DefaultAgentID, "agent to execute")
	askCmd.Flags().StringVar(&flagSession, "session", "", "session id for conversation continuity")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	p, err := openPlatform(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if err := unlockSession(p); err != nil {
		return err
	}

	question := strings.Join(args, " ")
	resp, err := p.ExecuteAgent(cmd.Context(), flagAgent, flagSession, question)
	if err != nil {
		return err
	}

	fmt.Println(resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range resp.Sources {
			line := fmt.Sprintf("  - %s", s.DocTitle)
			if s.Section != "" {
				line += " > " + s.Section
			}
			fmt.Printf("%s (%.2f)\n", line, s.Score)
		}
	}
	fmt.Printf("\n[%s/%s, %d tokens, %s, session %s]\n",
		resp.Provider, resp.Model, resp.Usage.TotalTokens, resp.Elapsed.Round(time.Millisecond), resp.SessionID)
	return nil
}
