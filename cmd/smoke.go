package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/relocator/internal/exclusion"
	"github.com/xkilldash9x/relocator/internal/smoke"
)

func newSmokeCmd() *cobra.Command {
	var (
		url     string
		contact string
		message string
		asJSON  bool
	)
	smokeCmd := &cobra.Command{
		Use:   "smoke",
		Short: "Drive a conversation round trip using only resolved selectors",
		Long: `Smoke searches for a contact, opens the conversation, checks the header,
reads the last inbound and outbound messages and, when --message is set,
sends it. Every element is located through the fallback chains, so a
passing run shows the chains work end to end on the live page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			scfg := cfg.Smoke()
			if cmd.Flags().Changed("contact") {
				scfg.Contact = contact
			}
			if cmd.Flags().Changed("message") {
				scfg.Message = message
			}
			if scfg.Contact == "" {
				return smoke.ErrNoContact
			}

			manager, err := openChain(ctx, cfg, logger, exclusion.New(cfg.Exclusion().Prefix))
			if err != nil {
				return err
			}
			pg, err := openPage(ctx, cfg, logger, pageOptions{url: url})
			if err != nil {
				return err
			}
			defer pg.Close()
			if pg.browser == nil {
				return errors.New("smoke needs a live browser")
			}

			runner := smoke.New(logger, manager, pg, pg.browser.Interactor())
			report, err := runner.Run(ctx, scfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				tw := newTable(out, "STEP", "RESULT", "SELECTOR", "DURATION", "DETAIL")
				for _, s := range report.Steps {
					result := "pass"
					detail := s.Detail
					switch {
					case s.Skipped:
						result = "skip"
					case !s.Passed:
						result = "FAIL"
						detail = s.Error
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Step, result, orDash(s.Selector),
						s.Duration.Round(time.Millisecond), orDash(detail))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			if !report.Passed {
				return errors.New("smoke test failed")
			}
			return nil
		},
	}
	smokeCmd.Flags().StringVar(&url, "url", "", "page to open in the browser (overrides browser.url)")
	smokeCmd.Flags().StringVar(&contact, "contact", "", "contact to search for (overrides smoke.contact)")
	smokeCmd.Flags().StringVar(&message, "message", "", "message to send; empty skips sending (overrides smoke.message)")
	smokeCmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return smokeCmd
}
