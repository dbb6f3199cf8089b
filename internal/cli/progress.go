package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/limber-app/limber/internal/app/engagement"
)

// ─── Progress ───────────────────────────────────────────────────────────────
// Shows: Level 3  [=========>..........] 45% │ 120 XP to level 4

const barWidth = 30 // characters for the progress bar

func init() {
	rootCmd.AddCommand(progressCmd)
}

var progressCmd = &cobra.Command{
	Use:     "progress",
	Aliases: []string{"status"},
	Short:   "Show level, streak and statistics",
	RunE:    runProgress,
}

func runProgress(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	view := d.Engine.Progress(cmd.Context(), userFlag)
	printProgress(cmd, view)
	return nil
}

func printProgress(cmd *cobra.Command, view engagement.ProgressView) {
	w := out(cmd)
	s := view.Statistics

	fmt.Fprintf(w, "Level %d  %s %3.0f%% | %d XP to level %d\n",
		s.Level, renderBar(view.LevelProgressPct), view.LevelProgressPct, view.XPToNextLevel, s.Level+1)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Streak\t%d day(s)\n", view.Streak.CurrentStreak)
	fmt.Fprintf(tw, "Best streak\t%d day(s)\n", view.Streak.BestStreak)
	fmt.Fprintf(tw, "Flex saves\t%d\n", view.Streak.FreezesRemaining)
	fmt.Fprintf(tw, "Routines\t%d\n", s.TotalRoutines)
	fmt.Fprintf(tw, "Minutes\t%d\n", s.TotalMinutes)
	fmt.Fprintf(tw, "XP\t%d\n", s.CurrentXP)
	if s.LastCompletionDate != "" {
		fmt.Fprintf(tw, "Last session\t%s\n", s.LastCompletionDate)
	}
	tw.Flush()
}

// renderBar builds [=======>............] for pct in 0..100.
func renderBar(pct float64) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	var bar string
	if filled == barWidth {
		bar = strings.Repeat("=", filled)
	} else if filled > 0 {
		bar = strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty)
	} else {
		bar = strings.Repeat(".", barWidth)
	}
	return "[" + bar + "]"
}
