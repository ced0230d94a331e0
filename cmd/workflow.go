package cmd

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/opencorp/internal/workflow"
)

var workflowListName string

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	Aliases: []string{"wf"},
	Short:   "Run and inspect workflow graphs",
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Validate and run a workflow definition",
	Long: `Loads a workflow YAML file, validates the whole graph and runs it layer by
layer. Tasks of one layer run in parallel on the worker pool; a failed task
skips its dependents. The run is saved and can be inspected with
'corp workflow show <id>'.`,
	Example: `  corp workflow run workflows/daily-report.yaml`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		progress := newProgressPrinter(out)
		ctx, a, err := openApp(cmd.Context(), projectDir, workflow.WithProgress(progress.print))
		if err != nil {
			return err
		}
		defer a.Close()

		def, err := workflow.LoadDefinition(args[0])
		if err != nil {
			return err
		}
		headerColor.Fprintf(out, "Running %s (%d tasks)\n", def.Name, len(def.Tasks))

		run, err := a.engine.Run(ctx, def)
		if run != nil {
			fmt.Fprintln(out)
			printRun(out, run)
		}
		if err != nil {
			return err
		}
		if run.Status == workflow.RunFailed {
			return fmt.Errorf("workflow %s failed (run %s)", def.Name, run.ID)
		}
		return nil
	},
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved workflow runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := openApp(cmd.Context(), projectDir)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.engine.ListRuns(ctx, workflowListName)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWORKFLOW\tSTATUS\tTASKS\tFAILED\tSTARTED\tDURATION")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				r.ID, r.Workflow, statusColor(string(r.Status)).Sprint(r.Status),
				r.Tasks, r.Failed, r.StartedAt.Local().Format(time.DateTime),
				r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
		}
		return w.Flush()
	},
}

var workflowShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the tasks of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := openApp(cmd.Context(), projectDir)
		if err != nil {
			return err
		}
		defer a.Close()

		run, err := a.engine.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		printRun(cmd.OutOrStdout(), run)
		return nil
	},
}

// progressPrinter writes one line per task state change. The engine calls
// it from task goroutines.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out}
}

func (p *progressPrinter) print(task string, r workflow.TaskResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch r.Status {
	case workflow.TaskRunning:
		fmt.Fprintf(p.out, "  ▶ %s\n", task)
	case workflow.TaskSucceeded:
		goodColor.Fprintf(p.out, "  ✓ %s\n", task)
	case workflow.TaskSkipped:
		warnColor.Fprintf(p.out, "  - %s skipped\n", task)
	case workflow.TaskFailed:
		badColor.Fprintf(p.out, "  ✗ %s: %s\n", task, r.Error)
	}
}

func printRun(out io.Writer, run *workflow.Run) {
	labelColor.Fprintf(out, "Run %s", run.ID)
	fmt.Fprintf(out, "  %s  ", run.Workflow)
	statusColor(string(run.Status)).Fprintf(out, "%s", run.Status)
	fmt.Fprintf(out, "  (%s)\n", run.Duration().Round(time.Millisecond))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tATTEMPTS\tDETAIL")
	for _, name := range run.Order {
		r := run.Tasks[name]
		detail := r.Error
		if detail == "" {
			detail = oneLine(r.Output, 60)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, statusColor(string(r.Status)).Sprint(r.Status), r.Attempts, detail)
	}
	w.Flush()
}

// oneLine flattens s and cuts it to n runes.
func oneLine(s string, n int) string {
	rs := []rune(s)
	for i, r := range rs {
		if r == '\n' || r == '\r' || r == '\t' {
			rs[i] = ' '
		}
	}
	if len(rs) > n {
		return string(rs[:n-1]) + "…"
	}
	return string(rs)
}

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowRunCmd, workflowListCmd, workflowShowCmd)
	workflowListCmd.Flags().StringVar(&workflowListName, "name", "", "only show runs of this workflow")
}
