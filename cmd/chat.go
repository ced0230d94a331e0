package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/opencorp/internal/backend"
	"github.com/aceteam-ai/opencorp/internal/dispatch"
)

var chatTier string

var chatCmd = &cobra.Command{
	Use:   "chat <worker> <message>",
	Short: "Send one message to a worker through the dispatcher",
	Long: `Sends a single message to a worker. The call goes through the same tier
selection, retries and budget checks as workflow tasks, and its cost is
recorded against the worker.`,
	Example: `  corp chat analyst "Summarise yesterday's sales"
  corp chat writer --tier cheap "Draft a tweet"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := openApp(cmd.Context(), projectDir)
		if err != nil {
			return err
		}
		defer a.Close()

		worker := args[0]
		p, err := a.workers.Resolve(worker)
		if err != nil {
			return err
		}
		var msgs []backend.Message
		if p.SystemPrompt != "" {
			msgs = append(msgs, backend.Message{Role: "system", Content: p.SystemPrompt})
		}
		msgs = append(msgs, backend.Message{Role: "user", Content: strings.Join(args[1:], " ")})

		resp, err := a.dispatcher.Invoke(ctx, dispatch.Request{Executor: worker, Messages: msgs, Tier: chatTier})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, resp.Content)
		Debug("backend=%s attempts=%d cost=%.6f status=%s", resp.Backend, resp.Attempts, resp.Cost, resp.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatTier, "tier", "", "preferred tier (default: the worker's tier)")
}
