package cmd

import (
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/muajs/mua-benchmarking/internal/bench"
	"github.com/muajs/mua-benchmarking/internal/graph"
)

var graphVariant = variant{
	name:   "graph",
	caveat: recomputeCaveat,
	newModel: func(rng *rand.Rand, lr float64) (bench.Model, func() error, error) {
		n, err := graph.NewNet(rng, lr)
		if err != nil {
			return nil, nil, err
		}
		return n, n.Close, nil
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Benchmark the dataflow-graph model",
	Long:  `Train the network declared once as a gorgonia expression graph, one image per step, and report the mean forward and backward time in milliseconds`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "graph"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		if err := runCommand(cfg, graphVariant, cmd.OutOrStdout()); err != nil {
			fatal(err)
		}
	},
}

func initGraph() {
	rootCmd.AddCommand(graphCmd)
	addRunFlags(graphCmd)
}
