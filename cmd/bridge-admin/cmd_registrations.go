// ABOUTME: Registration subcommands for bridge-admin
// ABOUTME: Lists durable agent registrations and clears them per conversation

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jmandel/banterop-bridge/internal/registry"
)

func init() {
	registrationsCmd.AddCommand(registrationsListCmd, registrationsClearCmd)
	rootCmd.AddCommand(registrationsCmd)
}

var registrationsCmd = &cobra.Command{
	Use:   "registrations",
	Short: "Manage durable agent registrations",
}

var registrationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered (conversation, agent) pairs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		entries, err := reg.ListEntries(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			color.New(color.FgHiBlack).Println("no registrations")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CONVERSATION\tAGENT\tREGISTERED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.ConversationID, e.AgentID, e.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var registrationsClearCmd = &cobra.Command{
	Use:   "clear <conversation-id>",
	Short: "Remove every registration for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		conversationID := args[0]
		if err := reg.Unregister(cmd.Context(), conversationID); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("cleared registrations for %s\n", conversationID)
		return nil
	},
}

func openRegistry() (*registry.SQLiteRegistry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return registry.NewSQLiteRegistry(cfg.Database.Path, nil)
}
