package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/relocator/internal/targets"
)

func newTargetsCmd() *cobra.Command {
	var (
		priority  string
		essential bool
		asJSON    bool
	)
	targetsCmd := &cobra.Command{
		Use:   "targets",
		Short: "List the target catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list := targets.All()
			switch {
			case essential:
				list = targets.Essential()
			case priority != "":
				p, err := targets.ParsePriority(priority)
				if err != nil {
					return err
				}
				list = targets.ByPriority(p)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "PRIORITY", "CATEGORY", "REQUIRED", "DESCRIPTION")
			for _, t := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Priority.Label(), t.Category, yesNo(t.Required), t.Description)
			}
			return tw.Flush()
		},
	}
	targetsCmd.Flags().StringVarP(&priority, "priority", "p", "", "only list targets of this priority (critical, important, optional or P0-P2)")
	targetsCmd.Flags().BoolVar(&essential, "essential", false, "only list the essential targets")
	targetsCmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	return targetsCmd
}
