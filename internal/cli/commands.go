package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/nidhogg/tenber/internal/vitality"
	"github.com/spf13/cobra"
)

// epoch anchors simulated snapshots; only offsets from it matter.
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func newSimulateCmd() *cobra.Command {
	var (
		ef       engineFlags
		staked   float64
		initial  float64
		hoursArg string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Print vitality over time for a fixed staked total",
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, err := parseHours(hoursArg)
			if err != nil {
				return err
			}
			state, err := vitality.NewDecayState(staked, initial, epoch)
			if err != nil {
				return err
			}
			eng := ef.engine()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HOURS\tVITALITY\tTIER")
			for _, h := range hours {
				writeRow(tw, eng, h, eng.Compute(state, epoch.Add(hoursToDuration(h))))
			}
			return tw.Flush()
		},
	}
	ef.register(cmd)
	cmd.Flags().Float64Var(&staked, "staked", 0, "total conviction staked (S)")
	cmd.Flags().Float64Var(&initial, "vitality", vitality.InitialVitality, "vitality at the snapshot (V0)")
	cmd.Flags().StringVar(&hoursArg, "hours", "0,6,12,24,48,96", "comma separated hour offsets")
	return cmd
}

func newCatchUpCmd() *cobra.Command {
	var (
		ef       engineFlags
		staked   float64
		initial  float64
		elapsed  float64
		newTotal float64
		hoursArg string
	)
	cmd := &cobra.Command{
		Use:   "catchup",
		Short: "Show a stake change landing after some decay, then the new trajectory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if elapsed < 0 {
				return fmt.Errorf("elapsed %v is negative", elapsed)
			}
			if newTotal < 0 {
				return fmt.Errorf("new total %v is negative", newTotal)
			}
			hours, err := parseHours(hoursArg)
			if err != nil {
				return err
			}
			state, err := vitality.NewDecayState(staked, initial, epoch)
			if err != nil {
				return err
			}
			eng := ef.engine()
			at := epoch.Add(hoursToDuration(elapsed))
			next := eng.CatchUp(state, newTotal, at)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "caught up at %sh: V0=%s S=%s\n",
				formatHours(elapsed), formatFloat(next.VitalityAtLastUpdate, ef.precision),
				formatFloat(next.TotalStaked, ef.precision))
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HOURS\tVITALITY\tTIER")
			for _, h := range hours {
				writeRow(tw, eng, elapsed+h, eng.Compute(next, at.Add(hoursToDuration(h))))
			}
			return tw.Flush()
		},
	}
	ef.register(cmd)
	cmd.Flags().Float64Var(&staked, "staked", 0, "staked total before the change")
	cmd.Flags().Float64Var(&initial, "vitality", vitality.InitialVitality, "vitality at the original snapshot")
	cmd.Flags().Float64Var(&elapsed, "elapsed", 12, "hours between the snapshot and the stake change")
	cmd.Flags().Float64Var(&newTotal, "new-total", 0, "staked total after the change")
	cmd.Flags().StringVar(&hoursArg, "hours", "0,12,24,48", "hour offsets after the change")
	return cmd
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify VALUE...",
		Short: "Map vitality values to tiers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, a := range args {
				v, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("vitality %q: %w", a, err)
				}
				fmt.Fprintf(out, "%s\t%s\n", a, vitality.Classify(v))
			}
			return nil
		},
	}
}

func writeRow(w io.Writer, eng *vitality.Engine, hours, v float64) {
	fmt.Fprintf(w, "%s\t%s\t%s\n",
		formatHours(hours), formatFloat(v, eng.Config().Precision), vitality.Classify(v))
}

func formatFloat(v float64, precision int) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}
