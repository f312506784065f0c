// Package cli implements the vitality command, an offline calculator for the
// decay model used by the tenber server.
package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nidhogg/tenber/internal/vitality"
	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
)

type engineFlags struct {
	halfLife  time.Duration
	precision int
}

func (f *engineFlags) register(cmd *cobra.Command) {
	def := vitality.DefaultConfig()
	cmd.Flags().DurationVar(&f.halfLife, "half-life", def.HalfLife, "decay half-life")
	cmd.Flags().IntVar(&f.precision, "precision", def.Precision, "decimal places in output")
}

func (f *engineFlags) engine() *vitality.Engine {
	cfg := vitality.DefaultConfig()
	cfg.HalfLife = f.halfLife
	cfg.Precision = f.precision
	return vitality.New(cfg)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "vitality",
		Short:        "Explore the tenber vitality decay model",
		Long:         "vitality evaluates V(t) = S + (V0 - S) * exp(-lambda * hours) and the tier thresholds without a server.",
		SilenceUsage: true,
	}
	root.AddCommand(newSimulateCmd())
	root.AddCommand(newCatchUpCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vitality %s (commit: %s)\n", Version, Commit)
		},
	})
	return root
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// parseHours reads a comma separated list of non-negative hour offsets.
func parseHours(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("hour offset %q: %w", part, err)
		}
		if h < 0 {
			return nil, fmt.Errorf("hour offset %v is negative", h)
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no hour offsets given")
	}
	return out, nil
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
