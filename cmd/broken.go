package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/relocator/internal/exclusion"
)

func newBrokenCmd() *cobra.Command {
	var (
		page pageOptions
		mark bool
	)
	brokenCmd := &cobra.Command{
		Use:   "broken",
		Short: "List the fallback chains with no selector matching on the page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			manager, err := openChain(ctx, cfg, logger, exclusion.New(cfg.Exclusion().Prefix))
			if err != nil {
				return err
			}
			pg, err := openPage(ctx, cfg, logger, page)
			if err != nil {
				return err
			}
			defer pg.Close()
			doc, err := pg.Snapshot(ctx)
			if err != nil {
				return err
			}

			broken := manager.DetectBroken(ctx, doc)
			out := cmd.OutOrStdout()
			if len(broken) == 0 {
				fmt.Fprintln(out, "All selector chains resolve.")
				return ctx.Err()
			}
			for _, id := range broken {
				fmt.Fprintln(out, id)
				if mark {
					if err := manager.MarkBroken(ctx, id); err != nil {
						return err
					}
				}
			}
			return ctx.Err()
		},
	}
	addPageFlags(brokenCmd, &page)
	brokenCmd.Flags().BoolVar(&mark, "mark", false, "persist the broken status for each listed chain")
	return brokenCmd
}
