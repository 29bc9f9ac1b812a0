package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agents",
	RunE:  runAgentsList,
}

var agentsEnableCmd = &cobra.Command{
	Use:   "enable <agent-id>",
	Short: "Enable an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setAgentEnabled(cmd, args[0], true) },
}

var agentsDisableCmd = &cobra.Command{
	Use:   "disable <agent-id>",
	Short: "Disable an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setAgentEnabled(cmd, args[0], false) },
}

var agentsDeleteCmd = &cobra.Command{
	Use:   "delete <agent-id>",
	Short: "Delete an agent (permanent agents can only be disabled)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentsDelete,
}

func init() {
	agentsCmd.AddCommand(agentsEnableCmd, agentsDisableCmd, agentsDeleteCmd)
	rootCmd.AddCommand(agentsCmd)
}

func runAgentsList(cmd *cobra.Command, _ []string) error {
	p, err := openPlatform(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	agents := p.ListAgents()
	if len(agents) == 0 {
		fmt.Println("No agents configured. Run 'mnemosyne providers add' first.")
		return nil
	}

	for _, a := range agents {
		state := p.Agents().State(a.ID)
		marker := " "
		if a.Permanent {
			marker = "*"
		}
		fmt.Printf("%s %-20s %-10s provider=%s", marker, a.ID, state, a.ProviderID)
		if len(a.Capabilities) > 0 {
			fmt.Printf(" [%s]", strings.Join(a.Capabilities, ", "))
		}
		fmt.Println()
		if a.Description != "" {
			fmt.Printf("    %s\n", a.Description)
		}
	}
	return nil
}

func setAgentEnabled(cmd *cobra.Command, id string, enabled bool) error {
	p, err := openPlatform(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if err := p.Agents().SetEnabled(id, enabled); err != nil {
		return err
	}
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	fmt.Printf("Agent %s %s\n", id, verb)
	return nil
}

func runAgentsDelete(cmd *cobra.Command, args []string) error {
	p, err := openPlatform(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if err := p.Agents().Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Agent %s deleted\n", args[0])
	return nil
}
