package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/relocator/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		prune  int
		asJSON bool
	)
	historyCmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Show past scan sessions, or the results of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			hcfg := cfg.History()
			if !hcfg.Enabled {
				return errors.New("scan history is disabled (history.enabled)")
			}
			log, err := history.Open(ctx, hcfg.Path, logger)
			if err != nil {
				return err
			}
			defer log.Close()
			out := cmd.OutOrStdout()

			if prune > 0 {
				n, err := log.Prune(ctx, prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d session(s).\n", n)
				return nil
			}

			if len(args) == 1 {
				results, err := log.Results(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, results)
				}
				tw := newTable(out, "TARGET", "VALIDATED", "LAYER", "SELECTOR", "ERRORS")
				for _, r := range results {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.TargetID, yesNo(r.Validated), r.Layer,
						orDash(r.BestSelector), orDash(strings.Join(r.ValidationErrors, "; ")))
				}
				return tw.Flush()
			}

			sessions, err := log.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, sessions)
			}
			tw := newTable(out, "SESSION", "STARTED", "STATUS", "VALIDATED", "ERRORS")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\n", s.ID, s.StartedAt.Local().Format(time.DateTime),
					s.Status, s.Validated, s.Total, len(s.Errors))
			}
			return tw.Flush()
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to list")
	historyCmd.Flags().IntVar(&prune, "prune", 0, "keep only the newest N sessions and exit")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return historyCmd
}
