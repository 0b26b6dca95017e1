package cmd

import (
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/muajs/mua-benchmarking/internal/bench"
	"github.com/muajs/mua-benchmarking/internal/eager"
)

var eagerVariant = variant{
	name:   "eager",
	caveat: recomputeCaveat,
	newModel: func(rng *rand.Rand, lr float64) (bench.Model, func() error, error) {
		return eager.NewNet(rng, lr), func() error { return nil }, nil
	},
}

var eagerCmd = &cobra.Command{
	Use:   "eager",
	Short: "Benchmark the eager model",
	Long:  `Train the define-by-run network, one image per step, and report the mean forward and backward time in milliseconds`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "eager"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		if err := runCommand(cfg, eagerVariant, cmd.OutOrStdout()); err != nil {
			fatal(err)
		}
	},
}

func initEager() {
	rootCmd.AddCommand(eagerCmd)
	addRunFlags(eagerCmd)
}
