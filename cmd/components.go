package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/relocator/internal/arbiter"
	"github.com/xkilldash9x/relocator/internal/browser"
	"github.com/xkilldash9x/relocator/internal/chain"
	"github.com/xkilldash9x/relocator/internal/config"
	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/exclusion"
	"github.com/xkilldash9x/relocator/internal/generator"
	"github.com/xkilldash9x/relocator/internal/history"
	"github.com/xkilldash9x/relocator/internal/observability"
	"github.com/xkilldash9x/relocator/internal/pixel"
	"github.com/xkilldash9x/relocator/internal/remotesync"
	"github.com/xkilldash9x/relocator/internal/scanner"
	"github.com/xkilldash9x/relocator/internal/search"
	"github.com/xkilldash9x/relocator/internal/store"
	"github.com/xkilldash9x/relocator/internal/validator"
)

// pageOptions selects where documents come from: a saved HTML file or a
// live browser tab.
type pageOptions struct {
	htmlPath string
	url      string
}

func addPageFlags(cmd *cobra.Command, opts *pageOptions) {
	cmd.Flags().StringVar(&opts.htmlPath, "html", "", "read the page from a saved HTML file instead of a live browser")
	cmd.Flags().StringVar(&opts.url, "url", "", "page to open in the browser (overrides browser.url)")
}

// page is a document source with an optional browser behind it.
type page struct {
	source  dom.Source
	browser *browser.Browser
	// location is the file or URL the page came from.
	location string
}

func openPage(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts pageOptions) (*page, error) {
	bcfg := cfg.Browser()
	if opts.htmlPath != "" {
		f, err := os.Open(opts.htmlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open page file: %w", err)
		}
		defer f.Close()
		var parseOpts []dom.Option
		if bcfg.ViewportWidth > 0 && bcfg.ViewportHeight > 0 {
			parseOpts = append(parseOpts, dom.WithViewport(float64(bcfg.ViewportWidth), float64(bcfg.ViewportHeight)))
		}
		doc, err := dom.Parse(f, parseOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", opts.htmlPath, err)
		}
		logger.Info("Loaded static page.", zap.String("path", opts.htmlPath), zap.Int("elements", len(doc.Elements())))
		return &page{source: dom.Static(doc), location: opts.htmlPath}, nil
	}

	if opts.url != "" {
		bcfg.URL = opts.url
	}
	b, err := browser.Launch(ctx, bcfg, logger)
	if err != nil {
		return nil, err
	}
	return &page{source: b, browser: b, location: bcfg.URL}, nil
}

// Snapshot waits for a live page to settle before capturing it.
func (p *page) Snapshot(ctx context.Context) (*dom.Document, error) {
	if p.browser != nil {
		if err := p.browser.Settle(ctx); err != nil {
			return nil, err
		}
	}
	return p.source.Snapshot(ctx)
}

func (p *page) Close() {
	if p != nil && p.browser != nil {
		p.browser.Close()
	}
}

// components holds the initialized engine.
type components struct {
	Filter       exclusion.Filter
	Generator    *generator.Generator
	Validator    *validator.Validator
	Manager      *chain.Manager
	Orchestrator *scanner.Orchestrator
	Syncer       remotesync.Syncer
	Remote       *remotesync.HTTPSyncer
	Store        *store.Store
	History      *history.Log

	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Shutdown releases the database handles.
func (c *components) Shutdown() {
	if c.History != nil {
		if err := c.History.Close(); err != nil {
			c.logger.Warn("Error closing scan history", zap.Error(err))
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
}

// openChain loads the selectors document from disk.
func openChain(ctx context.Context, cfg config.Interface, logger *zap.Logger, filter exclusion.Filter) (*chain.Manager, error) {
	fs, err := chain.NewFileStore(cfg.Selectors().Path)
	if err != nil {
		return nil, err
	}
	return chain.Open(ctx, logger, fs, chain.WithFilter(filter))
}

// initializeComponents wires the engine. source feeds stability checks and
// may be nil.
func initializeComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger, source dom.Source) (*components, error) {
	c := &components{Filter: exclusion.New(cfg.Exclusion().Prefix), logger: logger}

	manager, err := openChain(ctx, cfg, logger, c.Filter)
	if err != nil {
		return c, err
	}
	c.Manager = manager

	var syncers remotesync.Fanout
	if rcfg := cfg.Remote(); rcfg.Enabled {
		pending, err := remotesync.NewPendingFile(cfg.Selectors().PendingPath)
		if err != nil {
			return c, err
		}
		c.Remote = remotesync.NewHTTPSyncer(logger, rcfg,
			remotesync.WithPending(pending),
			remotesync.WithVersion(manager.Version),
		)
		syncers = append(syncers, c.Remote)
	}
	if dcfg := cfg.Database(); dcfg.Enabled {
		pool, err := pgxpool.New(ctx, dcfg.URL)
		if err != nil {
			return c, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.pool = pool
		st, err := store.New(ctx, pool, logger)
		if err != nil {
			return c, fmt.Errorf("failed to initialize database store: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			return c, err
		}
		c.Store = st
		syncers = append(syncers, st)
	}
	switch len(syncers) {
	case 0:
		c.Syncer = remotesync.Nop{}
	case 1:
		c.Syncer = syncers[0]
	default:
		c.Syncer = syncers
	}

	if hcfg := cfg.History(); hcfg.Enabled {
		log, err := history.Open(ctx, hcfg.Path, logger)
		if err != nil {
			return c, err
		}
		c.History = log
	}

	scan := cfg.Scan()
	c.Generator = generator.New(c.Filter, scan.MaxCandidates)
	c.Validator = validator.New(logger, c.Filter, validator.WithStability(scan.StabilityIterations, scan.StabilityPause))
	arb := arbiter.New(logger, c.Filter, arbiter.PolicyFromConfig(cfg.Specificity()))
	searcher := search.New(logger, c.Filter,
		search.WithContext(arb),
		search.WithHierarchy(scan.HierarchyMaxDepth, scan.HierarchyResultsLimit),
		search.WithPixel(pixel.New(logger)),
	)

	opts := []scanner.Option{
		scanner.WithChain(manager),
		scanner.WithSyncer(c.Syncer),
		scanner.WithObserver(logObserver{logger: logger.Named("progress")}),
	}
	if source != nil {
		opts = append(opts, scanner.WithSource(source))
	}
	c.Orchestrator = scanner.New(logger, c.Filter, searcher, c.Generator, c.Validator, arb, opts...)
	return c, nil
}

// logObserver reports scan progress through the logger.
type logObserver struct{ logger *zap.Logger }

func (o logObserver) OnProgress(percent int) {
	o.logger.Debug("Scan progress", zap.Int("percent", percent))
}
func (o logObserver) OnStatus(status string) { o.logger.Info(status) }

// recordSession stores the orchestrator's latest session in the history log
// and prunes old entries. Failures are logged only.
func (c *components) recordSession(ctx context.Context, keep int) {
	if c.History == nil {
		return
	}
	session := c.Orchestrator.Session()
	if session == nil {
		return
	}
	// The scan context may already be cancelled; the record should still land.
	ctx = context.WithoutCancel(ctx)
	if err := c.History.Record(ctx, session); err != nil {
		c.logger.Warn("Failed to record scan history", zap.Error(err))
		return
	}
	if keep > 0 {
		if _, err := c.History.Prune(ctx, keep); err != nil {
			c.logger.Warn("Failed to prune scan history", zap.Error(err))
		}
	}
}

// setup resolves the configuration and logger for a command.
func setup(cmd *cobra.Command) (config.Interface, *zap.Logger, error) {
	cfg, err := getConfigFromContext(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return cfg, observability.GetLogger(), nil
}
