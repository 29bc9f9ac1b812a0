package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ddunnock/mnemosyne/internal/provider"
)

var (
	flagProviderBackend string
	flagProviderModel   string
	flagProviderBaseURL string
	flagProviderKey     string
	flagProviderRPM     int
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage LLM providers",
	RunE:  runProvidersList,
}

var providersAddCmd = &cobra.Command{
	Use:   "add <provider-id>",
	Short: "Add or update a provider (API key encrypted under the master password)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvidersAdd,
}

var providersTestCmd = &cobra.Command{
	Use:   "test <provider-id>",
	Short: "Send a minimal ping through a provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvidersTest,
}

func init() {
	providersAddCmd.Flags().StringVar(&flagProviderBackend, "backend", "", "backend: openai, ollama or gemini")
	providersAddCmd.Flags().StringVar(&flagProviderModel, "model", "", "model identifier")
	providersAddCmd.Flags().StringVar(&flagProviderBaseURL, "base-url", "", "custom endpoint (OpenAI-compatible servers, remote Ollama)")
	providersAddCmd.Flags().StringVar(&flagProviderKey, "api-key", "", "API key (omit for keyless backends)")
	providersAddCmd.Flags().IntVar(&flagProviderRPM, "rpm", 0, "requests per minute cap (0 = unlimited)")
	_ = providersAddCmd.MarkFlagRequired("backend")
	_ = providersAddCmd.MarkFlagRequired("model")

	providersCmd.AddCommand(providersAddCmd, providersTestCmd)
	rootCmd.AddCommand(providersCmd)
}

func runProvidersList(cmd *cobra.Command, _ []string) error {
	p, err := openPlatform(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	configs := p.Providers().List()
	if len(configs) == 0 {
		fmt.Println("No providers configured. Run 'mnemosyne providers add'.")
		return nil
	}
	for _, c := range configs {
		state := "disabled"
		if c.Enabled {
			state = "enabled"
		}
		key := "no key"
		if c.APIKey != nil {
			key = "key encrypted"
		}
		fmt.Printf("%-20s %-8s %-30s %s, %s\n", c.ID, c.Backend, c.Model, state, key)
	}
	return nil
}

func runProvidersAdd(cmd *cobra.Command, args []string) error {
	p, err := openPlatform(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if flagProviderKey != "" {
		if err := unlockSession(p); err != nil {
			return err
		}
	}

	cfg := provider.Config{
		ID:                args[0],
		Name:              args[0],
		Backend:           flagProviderBackend,
		Model:             flagProviderModel,
		BaseURL:           flagProviderBaseURL,
		Enabled:           true,
		RequestsPerMinute: flagProviderRPM,
	}
	if err := p.Providers().Set(cfg, flagProviderKey); err != nil {
		return err
	}

	// Make sure a default agent exists once the first provider is usable.
	if err := p.Agents().EnsureDefault(cfg.ID); err != nil {
		return err
	}
	fmt.Printf("Provider %s configured\n", cfg.ID)
	return nil
}

func runProvidersTest(cmd *cobra.Command, args []string) error {
	p, err := openPlatform(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if err := unlockSession(p); err != nil {
		return err
	}
	if err := p.Providers().Test(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("provider test failed: %w", err)
	}
	fmt.Printf("Provider %s OK\n", args[0])
	return nil
}
