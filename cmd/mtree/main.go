// Package main provides the mtree CLI: benchmarks, integrity checks, a
// streaming k-NN classifier over stdin and SQLite instance queries.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/viant/mtree/internal/logging"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mtree",
		Short: "Dynamic metric tree index tools",
		Long: `mtree exercises a dynamic M-tree index: incremental insertion and
deletion with exact best-first nearest neighbour search under a
pluggable distance.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mtree v%s (%s)\n", version, commit)
		},
	})

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Compare tree and brute-force nearest neighbour search on random vectors",
		RunE:  runBench,
	}
	benchCmd.Flags().Int("n", 10000, "Number of vectors")
	benchCmd.Flags().Int("dim", 8, "Vector dimension")
	benchCmd.Flags().Int("queries", 100, "Number of queries")
	benchCmd.Flags().Int("k", 10, "Neighbours per query")
	benchCmd.Flags().String("distance", "euclidean", "Distance (euclidean, cosine)")
	benchCmd.Flags().Int64("seed", 1, "Random seed")
	addTreeFlags(benchCmd)
	rootCmd.AddCommand(benchCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run a random add/remove workload and validate the tree after every step",
		RunE:  runCheck,
	}
	checkCmd.Flags().Int("n", 2000, "Number of operations")
	checkCmd.Flags().Int64("seed", 1, "Random seed")
	addTreeFlags(checkCmd)
	rootCmd.AddCommand(checkCmd)

	streamCmd := &cobra.Command{
		Use:   "stream",
		Short: "Classify CSV rows (label,v1,v2,...) from stdin with a windowed k-NN",
		RunE:  runStream,
	}
	streamCmd.Flags().Int("k", 5, "Neighbours voting per row")
	streamCmd.Flags().String("config", "", "YAML configuration file")
	streamCmd.Flags().StringArray("set", nil, "Configuration override key=value (repeatable)")
	rootCmd.AddCommand(streamCmd)

	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Load a SQLite instance store and query its nearest records",
		RunE:  runLoad,
	}
	loadCmd.Flags().String("db", "instances.sqlite", "SQLite database path")
	loadCmd.Flags().String("query", "", "Comma separated query vector")
	loadCmd.Flags().Int("k", 5, "Neighbours to return")
	loadCmd.Flags().String("distance", "euclidean", "Distance (euclidean, cosine)")
	loadCmd.Flags().String("import", "", "CSV file (id,label,unix_seconds,v1,v2,...) to store before querying")
	rootCmd.AddCommand(loadCmd)

	return rootCmd
}

func addTreeFlags(cmd *cobra.Command) {
	cmd.Flags().Int("min", 6, "Minimum sphere fan-out")
	cmd.Flags().Int("max", 15, "Maximum sphere fan-out")
	cmd.Flags().String("split", "linear_hyperplane", "Split mode (linear_hyperplane, linear_balanced, hyperplane, balanced)")
}

func newLogger(cmd *cobra.Command) *logging.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	return logging.NewTextLogger(cmd.ErrOrStderr(), logging.ParseLevel(level))
}
