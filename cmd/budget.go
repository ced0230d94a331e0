package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var budgetJSON bool

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show today's spending against the daily ceiling",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := openApp(cmd.Context(), projectDir)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.guard.DailyReport(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if budgetJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}

		headerColor.Fprintf(out, "Budget %s\n", rep.Date)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Status\t%s\n", statusColor(string(rep.Status)).Sprint(rep.Status))
		fmt.Fprintf(w, "Spent\t%.4f %s of %.2f (%.0f%%)\n", rep.Spent, rep.Currency, rep.Limit, rep.Ratio*100)
		fmt.Fprintf(w, "Remaining\t%.4f %s\n", rep.Remaining, rep.Currency)
		if rep.Reserved > 0 {
			fmt.Fprintf(w, "Reserved\t%.4f %s\n", rep.Reserved, rep.Currency)
		}
		fmt.Fprintf(w, "Calls\t%d (%d in / %d out tokens)\n", rep.Calls, rep.TokensIn, rep.TokensOut)
		if err := w.Flush(); err != nil {
			return err
		}

		printBreakdown(cmd, "By worker", rep.ByExecutor)
		printBreakdown(cmd, "By backend", rep.ByBackend)
		return nil
	},
}

func printBreakdown(cmd *cobra.Command, title string, costs map[string]float64) {
	if len(costs) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	labelColor.Fprintln(out, title)

	keys := make([]string, 0, len(costs))
	for k := range costs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return costs[keys[i]] > costs[keys[j]] })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s\t%.4f\n", k, costs[k])
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(budgetCmd)
	budgetCmd.Flags().BoolVar(&budgetJSON, "json", false, "print the report as JSON")
}
