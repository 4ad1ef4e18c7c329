package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/flirtduo/chatlock/internal/audit"
	"github.com/flirtduo/chatlock/internal/auth"
	"github.com/flirtduo/chatlock/internal/conversation"
	"github.com/flirtduo/chatlock/internal/lock"
	"github.com/flirtduo/chatlock/internal/server"
	"github.com/flirtduo/chatlock/pkg/config"
	"github.com/flirtduo/chatlock/pkg/logging"
	"github.com/flirtduo/chatlock/pkg/metrics"
	"github.com/flirtduo/chatlock/pkg/webhook"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lock service",
	Long: `Run the HTTP lock service and the expiry sweeper until interrupted.

Chatter tokens, lease timing, the store and observers are read from the
config file. SIGINT or SIGTERM drains in-flight requests and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		logger := newLogger(cfg.Logging)
		logger.Info("config loaded", map[string]any{"path": path})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

// runServer wires config to store, manager, sweeper and HTTP server, and
// blocks until ctx ends or one of them fails.
func runServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	st, err := openStore(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	conversations, err := conversation.FromConfig(cfg.Conversations)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenTable(cfg.Chatters)
	if err != nil {
		return err
	}
	if tokens.Len() == 0 {
		logger.Warn("no chatters configured; every request will be rejected")
	}

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry()
	}

	opts := []lock.Option{
		lock.WithPolicy(cfg.Lock),
		lock.WithLogger(logger.WithFields(map[string]any{"component": "lock"})),
		lock.WithMetrics(reg),
		lock.WithRetry(lock.BackoffFromConfig(cfg.Retry)),
	}
	if cfg.Audit.Enabled {
		opts = append(opts, lock.WithObserver(audit.NewFileAppender(cfg.Audit.Path, logger)))
	}
	if cfg.Webhooks.Enabled {
		hooks := webhook.NewClient(&cfg.Webhooks, logger.WithFields(map[string]any{"component": "webhook"}))
		defer hooks.Close()
		opts = append(opts, lock.WithObserver(hooks))
	}
	manager := lock.NewManager(st, conversations, opts...)

	handler, err := server.NewHandler(server.Config{
		Manager: manager,
		Auth:    tokens,
		Metrics: reg,
		Logger:  logger.WithFields(map[string]any{"component": "http"}),
	})
	if err != nil {
		return err
	}
	srv := server.New(cfg.Server, handler, logger)

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return lock.NewSweeper(manager).Run(ctx)
	})
	p.Go(func(ctx context.Context) error {
		return srv.Run(ctx)
	})
	return p.Wait()
}
