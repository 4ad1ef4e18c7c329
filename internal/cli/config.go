package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flirtduo/chatlock/pkg/config"
	"github.com/flirtduo/chatlock/pkg/uuidutil"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Manage chatlock configuration",
	Long: `Manage the chatlock configuration file.

The file is chosen by --config, then $CHATLOCK_CONFIG, then chatlock.yaml
in the working directory.

Available commands:
  show      - Show the effective configuration
  init      - Write a starter configuration file
  validate  - Check the configuration file`,
	DisableFlagsInUseLine: true,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  "Show the configuration after defaults are applied. Chatter tokens are redacted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		redacted := *cfg
		redacted.Chatters = make([]config.ChatterConfig, len(cfg.Chatters))
		for i, c := range cfg.Chatters {
			c.Token = "<redacted>"
			redacted.Chatters[i] = c
		}

		if jsonOutput {
			return outputJSON(redacted)
		}
		data, err := yaml.Marshal(&redacted)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		printf("# %s\n%s", path, data)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolvePath(configPath)
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		cfg := config.Default()
		cfg.Chatters = []config.ChatterConfig{
			{ID: "chatter-1", Name: "Chatter One", Token: uuidutil.NewV4()},
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]any{"path": path})
		}
		printf("Wrote %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, path, err := loadConfig()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]any{"path": path, "valid": true})
		}
		printf("%s is valid\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
