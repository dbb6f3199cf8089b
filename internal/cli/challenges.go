package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	challengesCmd.Flags().BoolVar(&challengesRefresh, "refresh", false, "Expire old challenges and top up the pools first")
	rootCmd.AddCommand(challengesCmd)
	rootCmd.AddCommand(claimCmd)
}

var challengesRefresh bool

var challengesCmd = &cobra.Command{
	Use:     "challenges",
	Aliases: []string{"ch"},
	Short:   "List active challenges",
	Args:    cobra.NoArgs,
	RunE:    runChallenges,
}

func runChallenges(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmd.Context()
	if challengesRefresh {
		res, err := d.Engine.Challenges.Refresh(ctx, userFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Refreshed: %d new, %d expired\n", len(res.Created), len(res.Expired))
	}

	list := d.Engine.Challenges.List(ctx, userFlag)
	if len(list) == 0 {
		fmt.Fprintln(out(cmd), "No challenges yet. Run 'limber challenges --refresh' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tTITLE\tPROGRESS\tXP\tSTATUS\tENDS")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			c.ID,
			c.Category,
			truncate(c.Title, 32),
			c.Progress, c.Requirement,
			c.XP,
			c.Status,
			c.EndDate.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

var claimCmd = &cobra.Command{
	Use:   "claim ID",
	Short: "Claim the XP of a completed challenge",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaim,
}

func runClaim(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.Engine.Challenges.Claim(cmd.Context(), userFlag, args[0])
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Message)
	}

	w := out(cmd)
	late := ""
	if res.Late {
		late = " (late claim, half XP)"
	}
	fmt.Fprintf(w, "Claimed %d XP%s\n", res.XPEarned, late)
	if res.LeveledUp {
		fmt.Fprintf(w, "Level up! You are now level %d\n", res.NewLevel)
	}
	for _, r := range res.Unlocked {
		fmt.Fprintf(w, "Unlocked: %s\n", r.Title)
	}
	return nil
}
