// ABOUTME: Roster subcommand for bridge-admin
// ABOUTME: Prints the configured agent roster as a table

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jmandel/banterop-bridge/internal/config"
)

func init() {
	rootCmd.AddCommand(rosterCmd)
}

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Show the configured agent roster",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		roster, err := config.LoadRoster(cfg.Roster.Path)
		if err != nil {
			return fmt.Errorf("loading roster: %w", err)
		}
		if len(roster.Agents) == 0 {
			color.New(color.FgHiBlack).Println("roster is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPROTOCOL\tENDPOINT\tMODEL")
		for _, a := range roster.Agents {
			name := a.DisplayName
			if name == "" {
				name = "-"
			}
			model := a.Model
			if model == "" {
				model = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, name, a.Protocol, a.Endpoint, model)
		}
		return w.Flush()
	},
}
