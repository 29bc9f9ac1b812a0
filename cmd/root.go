// Package cmd implements the mnemosyne command line interface.
package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ddunnock/mnemosyne/internal/config"
	"github.com/ddunnock/mnemosyne/internal/log"
	"github.com/ddunnock/mnemosyne/internal/platform"
)

var (
	flagVault   string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "mnemosyne",
	Short: "Mnemosyne - retrieval-augmented agents over your notes",
	Long: `Mnemosyne indexes a note vault into a vector store and answers
questions through configurable retrieval-augmented agents.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagVault, "vault", "", "path to the note vault (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagVault != "" {
		cfg.VaultPath = flagVault
	}
	return cfg, nil
}

// newLogger builds the CLI logger honoring --verbose.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}

// openPlatform builds the platform for one command invocation.
func openPlatform(cmd *cobra.Command) (*platform.Platform, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return platform.New(cmd.Context(), cfg, newLogger())
}

// unlockSession feeds the master password into the platform's key
// manager session, from the environment or an interactive prompt.
func unlockSession(p *platform.Platform) error {
	password := os.Getenv("MNEMOSYNE_MASTER_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "Master password: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading master password: %w", err)
		}
		password = strings.TrimSpace(line)
	}
	return p.Session().SetMasterPassword(password)
}
