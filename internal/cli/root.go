package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/flirtduo/chatlock/pkg/color"
)

// Environment variables read by client commands.
const (
	EnvServer = "CHATLOCK_SERVER"
	EnvToken  = "CHATLOCK_TOKEN"
)

var (
	jsonOutput bool
	noColor    bool
	configPath string
	serverURL  string
	token      string

	stdout io.Writer = os.Stdout

	rootCmd = &cobra.Command{
		Use:   "chatlock",
		Short: "chatlock - conversation locks for the chatter dashboard",
		Long: `chatlock guarantees that only one chatter replies to a conversation at a
time. Locks are leases: a holder keeps its lock by heartbeating, and a lock
whose holder disappears expires on its own.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				color.Disable()
			}
			color.Init(noColor)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CHATLOCK_CONFIG or chatlock.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "lock service URL for client commands (default $CHATLOCK_SERVER)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "chatter bearer token (default $CHATLOCK_TOKEN)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmtErr("%v", err)
		os.Exit(1)
	}
}

// outputJSON prints v as JSON if --json flag is set, otherwise does nothing.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(format string, args ...any) {
	fmt.Fprintf(stdout, format, args...)
}

func fmtErr(format string, args ...any) {
	prefix := "chatlock: "
	if color.Enabled() {
		prefix = color.Error("chatlock:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
