package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/limber-app/limber/internal/domain"
)

func init() {
	rewardsCmd.Flags().StringVar(&rewardsUse, "use", "", "Spend one use of a consumable reward")
	rewardsCmd.Flags().StringVar(&rewardsRefill, "refill", "", "Refill a consumable reward if a refill is due")
	rewardsCmd.MarkFlagsMutuallyExclusive("use", "refill")
	rootCmd.AddCommand(rewardsCmd)
}

var (
	rewardsUse    string
	rewardsRefill string
)

var rewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "List rewards and their unlock levels",
	Args:  cobra.NoArgs,
	RunE:  runRewards,
}

func runRewards(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmd.Context()
	switch {
	case rewardsUse != "":
		res, err := d.Engine.UseReward(ctx, userFlag, rewardsUse)
		if err != nil {
			return err
		}
		if !res.Success {
			return errors.New(res.Message)
		}
		fmt.Fprintf(out(cmd), "%s: %d use(s) left\n", res.Message, res.Remaining)
		return nil
	case rewardsRefill != "":
		refilled, err := d.Engine.RefillReward(ctx, userFlag, rewardsRefill)
		if err != nil {
			return err
		}
		if !refilled {
			fmt.Fprintln(out(cmd), "No refill due")
			return nil
		}
		fmt.Fprintf(out(cmd), "Refilled %s\n", rewardsRefill)
		return nil
	}

	w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tLEVEL\tUNLOCKED\tUSES")
	for _, r := range d.Engine.Rewards.List(ctx, userFlag) {
		uses := "-"
		if r.Type == domain.RewardConsumable {
			uses = fmt.Sprintf("%d/%d", r.Uses, r.MaxUses)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			r.ID,
			r.Title,
			r.LevelRequired,
			checkmark(r.Unlocked),
			uses,
		)
	}
	return w.Flush()
}
