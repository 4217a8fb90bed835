package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/matchbot/internal/api/http"
	"github.com/spec-kit/matchbot/internal/api/http/handlers"
	"github.com/spec-kit/matchbot/internal/auth"
	"github.com/spec-kit/matchbot/internal/config"
	"github.com/spec-kit/matchbot/internal/observability"
	"github.com/spec-kit/matchbot/internal/persistence"
	"github.com/spec-kit/matchbot/internal/worker"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "matchbot",
		Short:         "WhatsApp matchmaking bot with paid contact unlock",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(hashAdminKeyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and the logger shared by every subcommand.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve webhooks and run the payment reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
			httptransport.RegisterMiddlewares(app, logger, a.metrics, cfg.App.RequestTimeout())
			httptransport.RegisterRoutes(app, httptransport.RouteConfig{
				Health:          handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, a.postgres, a.redis),
				Messages:        handlers.NewMessagesHandler(a.conversation, logger),
				Payments:        handlers.NewPaymentsHandler(a.tokens, a.paynow, a.settlement, logger),
				Admin:           handlers.NewAdminHandler(a.admin),
				AdminMiddleware: auth.NewAdminMiddleware(cfg.Auth.AdminKeyHash),
			})

			background := worker.Start(logger, a.notifications, a.reconciler)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("listening", zap.String("addr", cfg.App.Addr()))
				return app.Listen(cfg.App.Addr())
			})
			g.Go(func() error {
				return background(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				return app.ShutdownWithTimeout(shutdownTimeout(cfg))
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single reconciliation pass over pending payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			a, err := build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			// Settlement notifications must go out from this process too.
			worker.Start(logger, a.notifications, nil)
			summary, err := a.reconciler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d paid=%d failed=%d pending=%d errors=%d\n",
				summary.Checked, summary.Paid, summary.Failed, summary.Pending, summary.Errors)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
			if err != nil {
				return err
			}
			defer pg.Close()
			if pg.PoolHandle() == nil {
				return errNoDSN
			}
			return persistence.RunMigrations(cmd.Context(), pg.PoolHandle(), logger)
		},
	}
}

func hashAdminKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-admin-key [key]",
		Short: "Print a bcrypt hash for ADMIN_KEY_HASH",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read key: %w", err)
				}
				key = strings.TrimSpace(line)
			}
			if key == "" {
				return errors.New("key must not be empty")
			}
			cost, _ := cmd.Flags().GetInt("cost")
			hash, err := auth.HashKey(key, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().Int("cost", 0, "bcrypt cost (0 uses the library default)")
	return cmd
}
