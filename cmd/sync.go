package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/relocator/internal/store"
)

var (
	errRemoteDisabled = errors.New("remote sync is disabled (remote.enabled)")
	errSharedDisabled = errors.New("the shared database is disabled (database.enabled)")
)

func newSyncCmd() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Exchange selectors with the remote sources",
	}
	syncCmd.AddCommand(newSyncFlushCmd(), newSyncPullCmd(), newSyncHeadsCmd())
	return syncCmd
}

func newSyncFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Resend the updates queued while the remote was unreachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			comps, err := initializeComponents(ctx, cfg, logger, nil)
			defer comps.Shutdown()
			if err != nil {
				return err
			}
			if comps.Remote == nil {
				return errRemoteDisabled
			}
			n, err := comps.Remote.Flush(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %d queued batch(es).\n", n)
			return err
		},
	}
}

func newSyncPullCmd() *cobra.Command {
	var dryRun bool
	pullCmd := &cobra.Command{
		Use:   "pull",
		Short: "Replace the local selectors document with the remote one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			comps, err := initializeComponents(ctx, cfg, logger, nil)
			defer comps.Shutdown()
			if err != nil {
				return err
			}
			if comps.Remote == nil {
				return errRemoteDisabled
			}
			doc, err := comps.Remote.FetchRemote(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Remote version %s with %d selector(s); local version %s.\n",
				doc.Version, len(doc.Selectors), comps.Manager.Version())
			if dryRun {
				return nil
			}
			if err := comps.Manager.Replace(ctx, doc); err != nil {
				return err
			}
			logger.Info("Local selectors replaced", zap.String("version", doc.Version))
			return nil
		},
	}
	pullCmd.Flags().BoolVar(&dryRun, "dry-run", false, "fetch and validate only")
	return pullCmd
}

func newSyncHeadsCmd() *cobra.Command {
	var historyID string
	var asJSON bool
	headsCmd := &cobra.Command{
		Use:   "heads",
		Short: "Compare local chain heads with the shared database",
		Long: `Heads lists every local target next to the head selector recorded in the
shared database. With --history it prints the shared update log of one
target instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			comps, err := initializeComponents(ctx, cfg, logger, nil)
			defer comps.Shutdown()
			if err != nil {
				return err
			}
			if comps.Store == nil {
				return errSharedDisabled
			}
			if historyID != "" {
				records, err := comps.Store.History(ctx, historyID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				return printSharedHistory(cmd.OutOrStdout(), historyID, records)
			}
			heads, err := comps.Store.Heads(ctx)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "LOCAL", "SHARED", "SAME")
			for _, id := range comps.Manager.IDs() {
				local := ""
				if def, ok := comps.Manager.Definition(id); ok && len(def.Selectors) > 0 {
					local = def.Selectors[0]
				}
				shared := heads[id]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, orDash(local), orDash(shared), yesNo(local == shared))
			}
			return tw.Flush()
		},
	}
	headsCmd.Flags().StringVar(&historyID, "history", "", "print the shared update log of this target")
	headsCmd.Flags().BoolVar(&asJSON, "json", false, "print the update log as JSON (with --history)")
	return headsCmd
}

// printSharedHistory writes a target's shared update log, oldest first.
func printSharedHistory(w io.Writer, id string, records []store.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintf(w, "No shared updates for %s.\n", id)
		return err
	}
	tw := newTable(w, "WHEN", "OLD", "NEW", "VALIDATED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.CreatedAt.UTC().Format(time.RFC3339), orDash(r.Update.OldSelector), r.Update.NewSelector, yesNo(r.Update.Validated))
	}
	return tw.Flush()
}
