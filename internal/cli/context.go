package cli

import (
	"fmt"
	"os"

	"github.com/flirtduo/chatlock/internal/store"
	"github.com/flirtduo/chatlock/pkg/chatlock"
	"github.com/flirtduo/chatlock/pkg/config"
	"github.com/flirtduo/chatlock/pkg/logging"
)

func loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config: %w", err)
	}
	return cfg, path, nil
}

func newLogger(cfg config.LoggingConfig) *logging.Logger {
	logger := logging.NewLogger(logging.ParseLevel(cfg.Level))
	logger.SetFormat(logging.Format(cfg.Format))
	logging.SetGlobal(logger)
	return logger
}

func openStore(cfg config.StoreConfig, logger *logging.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory lock store; locks are lost on restart")
		return store.NewMemory(), nil
	case config.DriverSQLite, "":
		return store.OpenSQLite(store.SQLiteConfig{
			Path:     cfg.Path,
			PoolSize: cfg.PoolSize,
			Logger:   logger.WithFields(map[string]any{"component": "store"}),
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func requireClient() (*chatlock.Client, error) {
	server := firstNonEmpty(serverURL, os.Getenv(EnvServer), "http://localhost:8080")
	tok := firstNonEmpty(token, os.Getenv(EnvToken))
	if tok == "" {
		return nil, fmt.Errorf("no token: pass --token or set %s", EnvToken)
	}
	return chatlock.New(server, chatlock.Options{Token: tok})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
