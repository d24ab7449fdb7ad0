package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/relocator/internal/automap"
)

type automapOptions struct {
	page      pageOptions
	at        string
	element   string
	radius    float64
	noPublish bool
	asJSON    bool
}

func newAutomapCmd() *cobra.Command {
	var opts automapOptions
	automapCmd := &cobra.Command{
		Use:   "automap <target-id>",
		Short: "Map a target from a known element or a point on the page",
		Long: `Automap generates and validates a selector for one target from an element
you point at, either by a CSS selector that finds it today or by viewport
coordinates. A validated mapping is promoted to the head of the target's
fallback chain and published to the configured remote sources.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutomap(cmd, args[0], opts)
		},
	}
	addPageFlags(automapCmd, &opts.page)
	automapCmd.Flags().StringVar(&opts.at, "at", "", "viewport point as x,y")
	automapCmd.Flags().StringVar(&opts.element, "element", "", "CSS selector of the element to map")
	automapCmd.Flags().Float64Var(&opts.radius, "radius", automap.DefaultRadius, "search radius around --at when nothing sits exactly there")
	automapCmd.Flags().BoolVar(&opts.noPublish, "no-publish", false, "validate only; do not promote or publish the mapping")
	automapCmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the session as JSON")
	automapCmd.MarkFlagsMutuallyExclusive("at", "element")
	automapCmd.MarkFlagsOneRequired("at", "element")
	return automapCmd
}

func parsePoint(s string) (float64, float64, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("invalid point %q: want x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid x in %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid y in %q: %w", s, err)
	}
	return x, y, nil
}

func runAutomap(cmd *cobra.Command, id string, opts automapOptions) error {
	ctx := cmd.Context()
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	pg, err := openPage(ctx, cfg, logger, opts.page)
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

	mapper := automap.New(logger, comps.Filter, comps.Generator, comps.Validator, comps.Manager,
		automap.WithSyncer(comps.Syncer))
	if _, err := mapper.Start(automap.TriggerManual, []string{id}); err != nil {
		return err
	}

	var selector string
	if opts.element != "" {
		n := doc.QueryOne(opts.element)
		if n == nil {
			return fmt.Errorf("%w: nothing matches %s", automap.ErrNoElement, opts.element)
		}
		selector, err = mapper.MapElement(doc, id, n)
	} else {
		x, y, perr := parsePoint(opts.at)
		if perr != nil {
			return perr
		}
		selector, err = mapper.MapPoint(doc, id, x, y, opts.radius)
	}
	if err != nil {
		mapper.Cancel()
		return err
	}

	out := cmd.OutOrStdout()
	if opts.noPublish {
		if opts.asJSON {
			return writeJSON(out, mapper.Session())
		}
		fmt.Fprintf(out, "%s\t%s\n", id, selector)
		return nil
	}

	mappings, err := mapper.Complete(ctx)
	if err != nil {
		return err
	}
	if opts.asJSON {
		return writeJSON(out, mappings)
	}
	for _, m := range mappings {
		fmt.Fprintf(out, "%s\t%s -> %s\tremote: %s\n", m.TargetID, m.OldSelector, m.NewSelector, yesNo(m.UpdatedRemote))
	}
	return nil
}
