package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flirtduo/chatlock/internal/audit"
	"github.com/flirtduo/chatlock/pkg/color"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the lock audit trail",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify the audit log hash chain",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.Audit.Path
		}

		n, err := audit.Verify(path)
		if jsonOutput {
			if jerr := outputJSON(map[string]any{"path": path, "records": n, "valid": err == nil}); jerr != nil {
				return jerr
			}
			return err
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		printf("%s %s: %d record(s)\n", color.Success("ok"), path, n)
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}
