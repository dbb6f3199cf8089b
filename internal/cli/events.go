package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/limber-app/limber/internal/app/engagement"
)

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "Number of events to show")
	rootCmd.AddCommand(eventsCmd)
}

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent engine events (level-ups, unlocks, streak changes)",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

func runEvents(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	if d.Inbox == nil {
		return errors.New("the event inbox is disabled or unsupported by this store")
	}
	if eventsLimit <= 0 {
		eventsLimit = engagement.DefaultInboxLimit
	}
	events, err := d.Inbox.Recent(cmd.Context(), userFlag, eventsLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(out(cmd), "No events yet.")
		return nil
	}

	w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tPAYLOAD")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Type,
			truncate(string(e.Payload), 60),
		)
	}
	return w.Flush()
}
