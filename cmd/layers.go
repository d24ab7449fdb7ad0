package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/relocator/internal/scanner"
	"github.com/xkilldash9x/relocator/internal/targets"
)

func newLayersCmd() *cobra.Command {
	var (
		page   pageOptions
		asJSON bool
	)
	layersCmd := &cobra.Command{
		Use:   "layers <target-id>",
		Short: "Run every discovery layer on its own for one target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			t, ok := targets.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown target %q", args[0])
			}

			pg, err := openPage(ctx, cfg, logger, page)
			if err != nil {
				return err
			}
			defer pg.Close()
			comps, err := initializeComponents(ctx, cfg, logger, nil)
			defer comps.Shutdown()
			if err != nil {
				return err
			}
			doc, err := pg.Snapshot(ctx)
			if err != nil {
				return err
			}

			scanCfg, err := scanner.ConfigFromScan(cfg.Scan())
			if err != nil {
				return err
			}
			reports, err := comps.Orchestrator.ScanByLayer(ctx, doc, t, scanCfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), reports)
			}
			tw := newTable(cmd.OutOrStdout(), "LAYER", "NAME", "ELEMENTS", "CANDIDATES", "BEST", "PRECISION", "DURATION", "ERRORS")
			for _, r := range reports {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%.2f\t%s\t%s\n",
					int(r.Layer), r.Name, r.ElementsFound, r.CandidatesGenerated, orDash(r.BestSelector),
					r.Precision, r.Duration.Round(time.Millisecond), orDash(strings.Join(r.Errors, "; ")))
			}
			return tw.Flush()
		},
	}
	addPageFlags(layersCmd, &page)
	layersCmd.Flags().BoolVar(&asJSON, "json", false, "print the reports as JSON")
	return layersCmd
}
