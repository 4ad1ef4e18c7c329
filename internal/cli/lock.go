package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flirtduo/chatlock/pkg/chatlock"
	"github.com/flirtduo/chatlock/pkg/color"
	"github.com/flirtduo/chatlock/pkg/model"
)

var (
	lockHeartbeatInterval time.Duration
	lockFence             int64
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Acquire, inspect and release conversation locks",
	Long: `Client commands against a running lock service.

The service URL comes from --server or $CHATLOCK_SERVER and the chatter
token from --token or $CHATLOCK_TOKEN.`,
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire <conversation-id>",
	Short: "Acquire the lock on a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		res, err := client.Acquire(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		return printResult(res)
	},
}

var lockHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat <conversation-id>",
	Short: "Extend the lease on a held conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		res, err := client.Heartbeat(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		return printResult(res)
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <conversation-id>",
	Short: "Release a held conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		released, err := client.Release(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		if jsonOutput {
			return outputJSON(model.ReleaseResult{ConversationID: args[0], Released: released})
		}
		if released {
			printf("%s released\n", color.ConversationID(args[0]))
		} else {
			printf("%s %s\n", color.ConversationID(args[0]), color.Warning("was not held by you"))
		}
		return nil
	},
}

var lockStatusCmd = &cobra.Command{
	Use:   "status <conversation-id>...",
	Short: "Show who holds one or more conversations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		var sts []model.LockStatus
		if len(args) == 1 {
			st, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("lock status: %w", err)
			}
			sts = []model.LockStatus{st}
		} else {
			sts, err = client.StatusMany(cmd.Context(), args)
			if err != nil {
				return fmt.Errorf("lock status: %w", err)
			}
		}

		if jsonOutput {
			if len(sts) == 1 {
				return outputJSON(sts[0])
			}
			return outputJSON(sts)
		}
		if len(sts) > 1 {
			locked := 0
			for _, st := range sts {
				if st.Locked() {
					locked++
				}
			}
			printf("%s\n", color.Header(fmt.Sprintf("%d conversations, %d locked", len(sts), locked)))
		}
		for _, st := range sts {
			printStatus(st)
		}
		return nil
	},
}

var lockVerifyCmd = &cobra.Command{
	Use:   "verify <conversation-id>",
	Short: "Check that you still hold a conversation before sending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		st, err := client.Verify(cmd.Context(), args[0], lockFence)
		if jsonOutput {
			if jerr := outputJSON(map[string]any{"held": err == nil, "status": st}); jerr != nil {
				return jerr
			}
		} else if err == nil {
			printf("%s held\n", color.ConversationID(args[0]))
		}
		return err
	},
}

var lockHoldCmd = &cobra.Command{
	Use:   "hold <conversation-id>",
	Short: "Hold a conversation, heartbeating until interrupted",
	Long: `Acquire a conversation and keep it with periodic heartbeats until
SIGINT or SIGTERM, then release it. Exits non-zero if the lock is lost.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return holdConversation(ctx, client, args[0], lockHeartbeatInterval)
	},
}

func holdConversation(ctx context.Context, client *chatlock.Client, conversationID string, interval time.Duration) error {
	lost := make(chan chatlock.LostEvent, 1)
	session := client.NewSession(chatlock.SessionOptions{
		HeartbeatInterval: interval,
		OnLost: func(ev chatlock.LostEvent) {
			lost <- ev
		},
	})

	res, err := session.Open(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !res.Locked {
		_ = printResult(res)
		return fmt.Errorf("conversation %s is locked by %s", conversationID, res.HolderName)
	}
	if !jsonOutput {
		printf("Holding %s (fence %d); Ctrl-C to release\n", color.ConversationID(conversationID), res.FencingToken)
	} else if err := outputJSON(res); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		if err := session.Close(context.Background()); err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		if !jsonOutput {
			printf("%s released\n", color.ConversationID(conversationID))
		}
		return nil
	case ev := <-lost:
		if ev.Err != nil {
			return fmt.Errorf("lost %s: %w", conversationID, ev.Err)
		}
		if ev.HolderID == "" {
			return fmt.Errorf("lost %s: lease ran out", conversationID)
		}
		return fmt.Errorf("lost %s to %s", conversationID, ev.HolderName)
	}
}

func printResult(res model.LockResult) error {
	if jsonOutput {
		return outputJSON(res)
	}
	if res.Locked {
		printf("%s %s by %s until %s\n",
			color.ConversationID(res.ConversationID),
			color.LockState(true),
			color.Holder(res.HolderName),
			res.ExpiresAt.Format(time.RFC3339))
		return nil
	}
	if res.HolderID == "" {
		printf("%s is %s; %s\n",
			color.ConversationID(res.ConversationID),
			color.LockState(false),
			color.Warning("you no longer hold it"))
		return nil
	}
	printf("%s is %s by %s %s\n",
		color.ConversationID(res.ConversationID),
		color.LockState(true),
		color.Holder(res.HolderName),
		color.Dim("(read-only)"))
	return nil
}

func printStatus(st model.LockStatus) {
	if !st.Locked() {
		printf("%s %s\n", color.ConversationID(st.ConversationID), color.LockState(false))
		return
	}
	printf("%s %s by %s until %s\n",
		color.ConversationID(st.ConversationID),
		color.LockState(true),
		color.Holder(st.HolderName),
		st.ExpiresAt.Format(time.RFC3339))
}

func init() {
	lockHoldCmd.Flags().DurationVar(&lockHeartbeatInterval, "interval", chatlock.DefaultHeartbeatInterval, "heartbeat interval")
	lockVerifyCmd.Flags().Int64Var(&lockFence, "fence", 0, "fencing token to check (0 skips the check)")

	lockCmd.AddCommand(lockAcquireCmd)
	lockCmd.AddCommand(lockHeartbeatCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockVerifyCmd)
	lockCmd.AddCommand(lockHoldCmd)
	rootCmd.AddCommand(lockCmd)
}
