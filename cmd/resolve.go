package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/relocator/internal/exclusion"
)

func newResolveCmd() *cobra.Command {
	var page pageOptions
	resolveCmd := &cobra.Command{
		Use:   "resolve [selector-id...]",
		Short: "Print the selector each fallback chain resolves to on the page",
		Long: `Resolve walks each fallback chain front to back and prints the first
selector that matches on the page. Without arguments every configured chain
is resolved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			manager, err := openChain(ctx, cfg, logger, exclusion.New(cfg.Exclusion().Prefix))
			if err != nil {
				return err
			}
			ids := args
			if len(ids) == 0 {
				ids = manager.IDs()
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

			tw := newTable(cmd.OutOrStdout(), "ID", "SELECTOR", "REASON")
			unresolved := 0
			for _, id := range ids {
				sel, err := manager.Lookup(ctx, doc, id)
				if err != nil {
					unresolved++
					logger.Debug("Selector unresolved", zap.String("id", id), zap.Error(err))
					fmt.Fprintf(tw, "%s\t-\t%v\n", id, err)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t\n", id, sel)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if unresolved > 0 {
				return fmt.Errorf("%d of %d selector(s) unresolved", unresolved, len(ids))
			}
			return nil
		},
	}
	addPageFlags(resolveCmd, &page)
	return resolveCmd
}
