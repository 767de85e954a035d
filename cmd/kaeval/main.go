package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool
var verbose bool

var rootCmd = &cobra.Command{
	Use:   "kaeval",
	Short: "Golden-question evaluation pipeline for the knowledge assistant",
	Long: `kaeval turns production conversation exports into a curated set of
golden questions, queries the RAG system with them, and aggregates the
metric scores.

Typical flow:
  kaeval extract   --input conversations.jsonl --output out/golden_questions.jsonl
  kaeval sample    --input out/golden_questions.jsonl --output out/representative.jsonl
  kaeval query     --input out/representative.jsonl --output out/answers.jsonl
  kaeval aggregate --input out/results.jsonl
  kaeval serve     --results out/results.jsonl`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}
