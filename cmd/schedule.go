package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/opencorp/internal/scheduler"
)

var (
	scheduleCron        string
	scheduleInterval    int
	scheduleOnce        string
	scheduleDescription string
)

var scheduleCmd = &cobra.Command{
	Use:     "schedule",
	Aliases: []string{"sched"},
	Short:   "Send messages to workers on a timetable",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <worker> <message>",
	Short: "Schedule a message to a worker",
	Long: `Stores a scheduled task. Exactly one of --cron, --interval or --once sets
when it fires. Tasks fire while 'corp schedule start' runs; every run goes
through the dispatcher and counts against the daily budget.`,
	Example: `  corp schedule add analyst "Summarise yesterday's sales" --cron "0 9 * * 1-5"
  corp schedule add monitor "Check the queue" --interval 300
  corp schedule add writer "Draft the launch post" --once 2026-11-02T09:00:00Z`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		task := scheduler.Task{
			Worker:      args[0],
			Message:     strings.Join(args[1:], " "),
			Description: scheduleDescription,
		}
		set := 0
		if scheduleCron != "" {
			task.Kind, task.Value = scheduler.KindCron, scheduleCron
			set++
		}
		if scheduleInterval != 0 {
			task.Kind, task.Value = scheduler.KindInterval, strconv.Itoa(scheduleInterval)
			set++
		}
		if scheduleOnce != "" {
			task.Kind, task.Value = scheduler.KindOnce, scheduleOnce
			set++
		}
		if set != 1 {
			return fmt.Errorf("give exactly one of --cron, --interval or --once")
		}

		ctx, a, err := openApp(cmd.Context(), projectDir)
		if err != nil {
			return err
		}
		defer a.Close()

		added, err := a.scheduler.Add(ctx, task)
		if err != nil {
			return err
		}
		goodColor.Fprintf(cmd.OutOrStdout(), "✓ scheduled %s: %s -> %s\n", added.ID, added, added.Worker)
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := openApp(cmd.Context(), projectDir)
		if err != nil {
			return err
		}
		defer a.Close()

		tasks, err := a.scheduler.List(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(tasks) == 0 {
			fmt.Fprintln(out, "No scheduled tasks.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWORKER\tSCHEDULE\tENABLED\tLAST RUN\tMESSAGE")
		for _, t := range tasks {
			last := "-"
			if !t.LastRun.IsZero() {
				last = t.LastRun.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n", t.ID, t.Worker, t, t.Enabled, last, oneLine(t.Message, 40))
		}
		return w.Flush()
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a scheduled task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := openApp(cmd.Context(), projectDir)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.scheduler.Remove(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a scheduled task now, once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := openApp(cmd.Context(), projectDir)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.scheduler.Execute(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var scheduleStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Fire scheduled tasks until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ctx, a, err := openApp(ctx, projectDir)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
		headerColor.Fprintf(cmd.OutOrStdout(), "Scheduler running with %d tasks (Ctrl+C to stop)\n", a.scheduler.Running())
		<-ctx.Done()

		fmt.Fprintln(cmd.OutOrStdout(), "Stopping, waiting for running tasks...")
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return a.scheduler.Stop(waitCtx)
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd, scheduleRunCmd, scheduleStartCmd)

	scheduleAddCmd.Flags().StringVar(&scheduleCron, "cron", "", "five-field cron expression")
	scheduleAddCmd.Flags().IntVar(&scheduleInterval, "interval", 0, "fire every N seconds")
	scheduleAddCmd.Flags().StringVar(&scheduleOnce, "once", "", "fire once at this RFC 3339 time")
	scheduleAddCmd.Flags().StringVarP(&scheduleDescription, "description", "d", "", "note shown in listings")
}
