package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/limber-app/limber/internal/app/engagement"
)

func init() {
	logCmd.Flags().IntVarP(&logMinutes, "minutes", "m", 10, "Session length in minutes")
	logCmd.Flags().StringVarP(&logArea, "area", "a", "", "Body area stretched (neck, back, hips, ...)")
	logCmd.Flags().StringVar(&logDate, "date", "", "Day of the session, YYYY-MM-DD (default today)")
	rootCmd.AddCommand(logCmd)
}

var (
	logMinutes int
	logArea    string
	logDate    string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Record a completed stretching session",
	Args:  cobra.NoArgs,
	RunE:  runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.Engine.LogSession(cmd.Context(), userFlag, engagement.SessionInput{
		Date:            logDate,
		DurationMinutes: logMinutes,
		Area:            logArea,
	})
	if err != nil {
		return err
	}

	w := out(cmd)
	fmt.Fprintf(w, "Logged %d min on %s. Streak: %d day(s)\n", logMinutes, res.Date, res.Streak.CurrentStreak)
	for _, c := range res.Challenges.Completed {
		fmt.Fprintf(w, "  Challenge complete: %s (+%d XP, run 'limber claim %s')\n", c.Title, c.XP, c.ID)
	}
	for _, id := range res.Refilled {
		fmt.Fprintf(w, "  Refilled: %s\n", id)
	}
	return nil
}
