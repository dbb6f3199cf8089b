package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	streakCmd.Flags().BoolVar(&streakFreeze, "freeze", false, "Spend a flex save to cover yesterday")
	streakCmd.Flags().BoolVar(&streakCheck, "check", false, "Zero the streak if it is broken")
	streakCmd.Flags().BoolVar(&streakReset, "reset", false, "Start the streak over from today")
	streakCmd.MarkFlagsMutuallyExclusive("freeze", "check", "reset")
	rootCmd.AddCommand(streakCmd)
}

var (
	streakFreeze bool
	streakCheck  bool
	streakReset  bool
)

var streakCmd = &cobra.Command{
	Use:   "streak",
	Short: "Show or maintain the current streak",
	Args:  cobra.NoArgs,
	RunE:  runStreak,
}

func runStreak(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmd.Context()
	w := out(cmd)
	tracker := d.Engine.Streaks

	switch {
	case streakFreeze:
		res, err := tracker.ApplyFreeze(ctx, userFlag)
		if err != nil {
			return err
		}
		if !res.Success {
			return errors.New(res.Message)
		}
		fmt.Fprintf(w, "Yesterday is covered. Streak: %d day(s), %d flex save(s) left\n", res.CurrentStreak, res.RemainingFreezes)
		return nil
	case streakCheck:
		res, err := tracker.CheckStreak(ctx, userFlag)
		if err != nil {
			return err
		}
		if res.Broken && res.PreviousStreak > 0 {
			fmt.Fprintf(w, "Streak of %d day(s) was broken\n", res.PreviousStreak)
			return nil
		}
		fmt.Fprintf(w, "Streak intact: %d day(s)\n", res.CurrentStreak)
		return nil
	case streakReset:
		if err := tracker.ResetStreak(ctx, userFlag); err != nil {
			return err
		}
		fmt.Fprintln(w, "Streak reset")
		return nil
	}

	st := tracker.Status(ctx, userFlag)
	fmt.Fprintf(w, "Current streak: %d day(s)\n", st.CurrentStreak)
	fmt.Fprintf(w, "Best streak:    %d day(s)\n", st.BestStreak)
	fmt.Fprintf(w, "Flex saves:     %d\n", st.FreezesRemaining)
	if len(st.FrozenDates) > 0 {
		fmt.Fprintf(w, "Frozen days:    %s\n", strings.Join(st.FrozenDates, ", "))
	}
	switch {
	case st.IsBroken:
		fmt.Fprintln(w, "Status:         broken")
	case st.CanFreeze:
		fmt.Fprintln(w, "Status:         at risk (use 'limber streak --freeze')")
	default:
		fmt.Fprintln(w, "Status:         active")
	}
	return nil
}
