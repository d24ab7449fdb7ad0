package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/relocator/internal/reporting"
	"github.com/xkilldash9x/relocator/internal/scanner"
	"github.com/xkilldash9x/relocator/internal/targets"
)

type scanOptions struct {
	page        pageOptions
	targets     []string
	noPersist   bool
	allowMissed bool
	asJSON      bool
	report      string
	format      string
}

func newScanCmd() *cobra.Command {
	var opts scanOptions
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover and validate a selector for every target on the page",
		Long: `Scan walks the target catalog in priority order, finds candidate elements
through the discovery layers and keeps the first generated selector that
validates. Winners are promoted into the fallback chains and published to
the configured remote sources.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts)
		},
	}
	addPageFlags(scanCmd, &opts.page)
	scanCmd.Flags().StringSliceVarP(&opts.targets, "targets", "t", nil, "target ids to scan (default: scan.targets or the whole catalog)")
	scanCmd.Flags().BoolVar(&opts.noPersist, "no-persist", false, "do not promote winners or publish them")
	scanCmd.Flags().BoolVar(&opts.allowMissed, "allow-missed-critical", false, "do not fail the session when a critical target is missed")
	scanCmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the session as JSON")
	scanCmd.Flags().StringVar(&opts.report, "report", "", "write a report of the session to this file (- for stdout)")
	scanCmd.Flags().StringVar(&opts.format, "format", "sarif", "report format: sarif or json")
	return scanCmd
}

func runScan(cmd *cobra.Command, opts scanOptions) error {
	ctx := cmd.Context()
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if opts.allowMissed {
		cfg.SetScanRequireCritical(false)
	}

	scanCfg, err := scanner.ConfigFromScan(cfg.Scan())
	if err != nil {
		return err
	}
	if len(opts.targets) > 0 {
		selected, err := targets.Select(opts.targets)
		if err != nil {
			return err
		}
		scanCfg.Targets = selected
	}
	if opts.noPersist {
		scanCfg.PersistWinners = false
	}

	pg, err := openPage(ctx, cfg, logger, opts.page)
	if err != nil {
		return err
	}
	defer pg.Close()

	comps, err := initializeComponents(ctx, cfg, logger, pg)
	defer comps.Shutdown()
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	doc, err := pg.Snapshot(ctx)
	if err != nil {
		return err
	}

	logger.Info("Starting scan", zap.Int("targets", len(scanCfg.Targets)), zap.Bool("persist", scanCfg.PersistWinners))
	_, scanErr := comps.Orchestrator.ScanAll(ctx, doc, scanCfg)
	comps.recordSession(ctx, cfg.History().Keep)

	session := comps.Orchestrator.Session()
	if opts.asJSON {
		if err := writeJSON(cmd.OutOrStdout(), session); err != nil {
			return err
		}
	} else if session != nil {
		printSession(cmd, session)
	}

	if opts.report != "" && session != nil {
		if err := writeReport(opts, session, pg.location); err != nil {
			return err
		}
	}

	if errors.Is(scanErr, scanner.ErrCriticalTierFailed) {
		return fmt.Errorf("scan failed: %w", scanErr)
	}
	return scanErr
}

func writeReport(opts scanOptions, session *scanner.Session, location string) error {
	r, err := reporting.New(opts.format, opts.report, reporting.Options{ToolVersion: Version, PageURL: location})
	if err != nil {
		return err
	}
	if err := r.Write(session); err != nil {
		_ = r.Close()
		return err
	}
	return r.Close()
}

func printSession(cmd *cobra.Command, s *scanner.Session) {
	out := cmd.OutOrStdout()
	tw := newTable(out, "TARGET", "VALIDATED", "LAYER", "SELECTOR", "DURATION", "ERRORS")
	for _, r := range s.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.TargetID, yesNo(r.Validated), r.Layer, orDash(r.BestSelector),
			r.Duration.Round(time.Millisecond), orDash(strings.Join(r.ValidationErrors, "; ")))
	}
	_ = tw.Flush()

	validated := 0
	for _, r := range s.Results {
		if r.Validated {
			validated++
		}
	}
	fmt.Fprintf(out, "\nSession %s: %s, %d/%d validated\n", s.ID, s.Status, validated, len(s.Results))
	for _, e := range s.Errors {
		fmt.Fprintf(out, "  ! %s\n", e)
	}
}
