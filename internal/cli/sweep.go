package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flirtduo/chatlock/internal/lock"
	"github.com/flirtduo/chatlock/pkg/config"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired locks from the store once",
	Long: `Delete every lock whose lease has run out. The running service sweeps
on its own; this is for maintenance against a SQLite file while the
service is down or shared between several instances.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.Driver == config.DriverMemory {
			return fmt.Errorf("sweep needs a persistent store; driver is %q", cfg.Store.Driver)
		}
		logger := newLogger(cfg.Logging)

		st, err := openStore(cfg.Store, logger)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		manager := lock.NewManager(st, nil,
			lock.WithPolicy(cfg.Lock),
			lock.WithLogger(logger),
			lock.WithRetry(lock.BackoffFromConfig(cfg.Retry)))
		n, err := manager.Sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}

		if jsonOutput {
			return outputJSON(map[string]any{"removed": n})
		}
		printf("Removed %d expired lock(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
