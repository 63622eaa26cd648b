package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/bitesense/internal/config"
	"github.com/xkilldash9x/bitesense/internal/observability"
	"github.com/xkilldash9x/bitesense/internal/server"
	"github.com/xkilldash9x/bitesense/internal/telegram"
)

// runner is a long-lived front end that stops when its context is done.
type runner interface {
	Run(ctx context.Context) error
}

// newServeCmd creates the `serve` command.
func newServeCmd(provider componentProvider) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API and, when enabled, the Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}

			c, err := provider(ctx, cfg, true)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer c.Shutdown()

			runners, err := buildFrontEnds(cfg, c, logger)
			if err != nil {
				return err
			}
			return runAll(ctx, runners...)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	return cmd
}

// buildFrontEnds wires the HTTP server and, if configured, the Telegram bot
// onto the shared components.
func buildFrontEnds(cfg *config.Config, c *components, logger *zap.Logger) ([]runner, error) {
	srv := server.New(cfg.Server, c.Analyzer, c.History, c.Chat, c.Prep, logger,
		server.WithRunTimeout(cfg.Analysis.RunTimeout))
	runners := []runner{srv}

	if cfg.Telegram.Enabled {
		api, err := telegram.Dial(cfg.Telegram)
		if err != nil {
			return nil, err
		}
		bot := telegram.New(api, cfg.Telegram, cfg.Analysis.Streaming, c.Analyzer, c.History, c.Chat, c.Prep, logger)
		runners = append(runners, bot)
	}
	return runners, nil
}

// runAll runs every runner until ctx is done or one of them fails, which
// stops the rest.
func runAll(ctx context.Context, runners ...runner) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error { return r.Run(gctx) })
	}
	return g.Wait()
}
