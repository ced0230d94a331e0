package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/opencorp/internal/events"
)

var (
	eventsType   string
	eventsSource string
	eventsLimit  int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent events, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := openApp(cmd.Context(), projectDir)
		if err != nil {
			return err
		}
		defer a.Close()

		evs, err := a.events.Query(ctx, events.Filter{Type: eventsType, Source: eventsSource, Limit: eventsLimit})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(evs) == 0 {
			fmt.Fprintln(out, "No events.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTYPE\tSOURCE\tDATA")
		for _, ev := range evs {
			data, _ := json.Marshal(ev.Data)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Timestamp.Local().Format(time.DateTime), ev.Type, ev.Source, data)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "only events of this type")
	eventsCmd.Flags().StringVar(&eventsSource, "source", "", "only events from this source")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "maximum number of events")
}
