package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/relocator/internal/api"
	"github.com/xkilldash9x/relocator/internal/remotesync"
	"github.com/xkilldash9x/relocator/internal/scanner"
	"github.com/xkilldash9x/relocator/internal/wait"
)

func newServeCmd() *cobra.Command {
	var (
		page          pageOptions
		addr          string
		flushInterval time.Duration
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose targets, selector resolution and scans over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			scfg := cfg.Server()
			if addr != "" {
				scfg.Addr = addr
			}

			pg, err := openPage(ctx, cfg, logger, page)
			if err != nil {
				return err
			}
			defer pg.Close()
			comps, err := initializeComponents(ctx, cfg, logger, pg)
			defer comps.Shutdown()
			if err != nil {
				return err
			}
			scanCfg, err := scanner.ConfigFromScan(cfg.Scan())
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			handlers := api.NewHandlers(gctx, logger, comps.Manager, comps.Orchestrator, pg, scanCfg)
			server := api.NewServer(scfg, handlers, logger)
			g.Go(func() error { return server.Run(gctx) })
			if comps.Remote != nil && flushInterval > 0 {
				g.Go(func() error {
					flushPending(gctx, comps.Remote, flushInterval, logger)
					return nil
				})
			}
			err = g.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	addPageFlags(serveCmd, &page)
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().DurationVar(&flushInterval, "flush-interval", 5*time.Minute, "how often to resend queued remote updates; 0 disables")
	return serveCmd
}

// flushPending resends queued remote batches every interval until ctx ends.
func flushPending(ctx context.Context, remote *remotesync.HTTPSyncer, interval time.Duration, logger *zap.Logger) {
	clock := wait.NewRealClock()
	for {
		if err := wait.Sleep(ctx, clock, interval); err != nil {
			return
		}
		n, err := remote.Flush(ctx)
		if err != nil {
			logger.Warn("Failed to flush queued remote updates", zap.Int("sent", n), zap.Error(err))
			continue
		}
		if n > 0 {
			logger.Info("Flushed queued remote updates", zap.Int("batches", n))
		}
	}
}
