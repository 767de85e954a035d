package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/digdir/kunnskapsassistenten/internal/aggregate"
	"github.com/digdir/kunnskapsassistenten/internal/categorize"
	"github.com/digdir/kunnskapsassistenten/internal/config"
	"github.com/digdir/kunnskapsassistenten/internal/dedup"
	"github.com/digdir/kunnskapsassistenten/internal/extract"
	"github.com/digdir/kunnskapsassistenten/internal/llm"
	"github.com/digdir/kunnskapsassistenten/internal/model"
	"github.com/digdir/kunnskapsassistenten/internal/pipeline"
	"github.com/digdir/kunnskapsassistenten/internal/ragclient"
	"github.com/digdir/kunnskapsassistenten/internal/report"
	"github.com/digdir/kunnskapsassistenten/internal/retry"
	"github.com/digdir/kunnskapsassistenten/internal/sample"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func retryPolicy(cfg config.Config) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = cfg.Pipeline.MaxAttempts
	return p
}

// openCache opens the LLM response cache when enabled. A nil cache is valid
// and simply disables caching.
func openCache(cfg config.Config) *llm.Cache {
	if !cfg.LLM.CacheResponses {
		return nil
	}
	cache, err := llm.OpenCache(cfg.Storage.DataDir)
	if err != nil {
		printWarning("response cache unavailable, continuing without: %v", err)
		return nil
	}
	return cache
}

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract golden questions from a conversation export",
	Long: `Extract golden questions from a conversation export.

Runs the full pipeline: filter conversations, extract and reformulate
questions, categorize usage modes and subject topics, deduplicate, and
write the question set plus transparency files for everything excluded.

Examples:
  kaeval extract --input conversations.jsonl --output out/golden_questions.jsonl
  kaeval extract --input conversations.jsonl --output out/golden_questions.jsonl --limit 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		cache := openCache(cfg)
		defer cache.Close()
		client := llm.NewClient(cfg.LLM, cache)
		policy := retryPolicy(cfg)

		p := pipeline.New(
			extract.New(client, cfg.Triggers, policy),
			categorize.New(client, client, policy, cfg.Pipeline.BatchSize),
			dedup.New(client, cfg.Pipeline.SimilarityThreshold),
			cfg.Pipeline.BatchSize,
		)

		printStep("Extracting golden questions from %s", input)
		start := time.Now()
		summary, err := p.Run(ctx, input, output, limit)
		if err != nil {
			return err
		}

		printSuccess("Wrote %d golden questions to %s (%s)", summary.QuestionsWritten, output, time.Since(start).Round(time.Second))
		printStatus("Conversations", "%d loaded, %d skipped, %d dropped", summary.ConversationsLoaded, summary.ConversationsSkipped, summary.ConversationsDropped)
		printStatus("Questions", "%d extracted, %d duplicates removed", summary.QuestionsExtracted, summary.DuplicatesRemoved)
		printStatus("Failures", "%d reformulations, %d categorizations", summary.FailedReformulations, summary.FailedCategorizations)
		if summary.DedupDegraded {
			printWarning("Semantic deduplication degraded to exact matching; the output may contain near-duplicates")
		}
		if cache != nil {
			hits, misses := cache.Stats()
			printStatus("LLM cache", "%d hits, %d misses", hits, misses)
		}
		return nil
	},
}

// --- sample ---

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Select a balanced representative subset of golden questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")
		maxPerGroup, _ := cmd.Flags().GetInt("max-per-group")

		if maxPerGroup == 0 {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			maxPerGroup = cfg.Pipeline.MaxPerGroup
		}

		questions, skipped, err := report.ReadGoldenQuestions(input)
		if err != nil {
			return err
		}
		if skipped > 0 {
			printWarning("Skipped %d malformed lines in %s", skipped, input)
		}

		res := sample.Sample(questions, maxPerGroup)
		if err := report.WriteGoldenQuestions(output, res.Questions); err != nil {
			return err
		}

		printSuccess("Selected %d of %d questions into %s", len(res.Questions), len(questions), output)
		for _, line := range sample.FormatReport(res.Groups) {
			fmt.Fprintln(os.Stderr, "  "+line)
		}
		return nil
	},
}

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the RAG system with sampled questions",
	Long: `Query the RAG system with sampled questions.

Sends each question to the RAG API and writes one answer record per
question. Failed queries are recorded with their error and do not stop
the batch. Requires KAEVAL_RAG_API_URL, KAEVAL_RAG_API_KEY, and
KAEVAL_RAG_API_EMAIL (or the matching config file keys).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.ValidateRAG(); err != nil {
			return err
		}

		questions, skipped, err := report.ReadGoldenQuestions(input)
		if err != nil {
			return err
		}
		if skipped > 0 {
			printWarning("Skipped %d malformed lines in %s", skipped, input)
		}

		ctx, stop := signalContext()
		defer stop()

		printStep("Querying %s with %d questions", cfg.RAG.BaseURL, len(questions))
		client := ragclient.New(cfg.RAG, retryPolicy(cfg))
		results := pipeline.QueryQuestions(ctx, client, questions, cfg.Pipeline.BatchSize)

		if err := report.WriteEvaluationResults(output, results); err != nil {
			return err
		}

		failures := 0
		for _, r := range results {
			if r.Error != "" {
				failures++
			}
		}
		printSuccess("Wrote %d answers to %s", len(results), output)
		if failures > 0 {
			printWarning("%d questions failed; their records carry the error", failures)
		}
		return ctx.Err()
	},
}

// --- aggregate ---

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate metric scores from an evaluation results file",
	Long: `Aggregate metric scores from an evaluation results file.

Computes mean, population standard deviation, min, and max per metric
over successful score records, plus the failure matrix by usage mode.
Filters restrict which results enter the aggregation.

Examples:
  kaeval aggregate --input out/results.jsonl
  kaeval aggregate --input out/results.jsonl --metric Faithfulness --scope multi_document`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")

		results, skipped, err := report.ReadEvaluationResults(input)
		if err != nil {
			return err
		}
		if skipped > 0 {
			printWarning("Skipped %d malformed lines in %s", skipped, input)
		}

		filter, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}

		rep := aggregate.Aggregate(results, filter)
		printReport(rep)

		showFailures, _ := cmd.Flags().GetBool("failures")
		if showFailures {
			printFailureMatrix(aggregate.FailureMatrix(results))
		}
		return nil
	},
}

func filterFromFlags(cmd *cobra.Command) (aggregate.Predicate, error) {
	var preds []aggregate.Predicate

	if metric, _ := cmd.Flags().GetString("metric"); metric != "" {
		preds = append(preds, aggregate.ByMetric(metric))
	}
	if topics, _ := cmd.Flags().GetStringSlice("topic"); len(topics) > 0 {
		preds = append(preds, aggregate.ByTopic(topics...))
	}
	if scope, _ := cmd.Flags().GetString("scope"); scope != "" {
		s := model.DocumentScope(scope)
		if !s.Known() {
			return nil, fmt.Errorf("unknown document scope %q", scope)
		}
		preds = append(preds, aggregate.ByScope(s))
	}
	if op, _ := cmd.Flags().GetString("operation"); op != "" {
		o := model.OperationType(op)
		if !o.Known() {
			return nil, fmt.Errorf("unknown operation type %q", op)
		}
		preds = append(preds, aggregate.ByOperation(o))
	}
	if complexity, _ := cmd.Flags().GetString("complexity"); complexity != "" {
		c := model.OutputComplexity(complexity)
		if !c.Known() {
			return nil, fmt.Errorf("unknown output complexity %q", complexity)
		}
		preds = append(preds, aggregate.ByComplexity(c))
	}

	if len(preds) == 0 {
		return nil, nil
	}
	return aggregate.And(preds...), nil
}

func printReport(rep aggregate.Report) {
	fmt.Printf("Results: %d (%d metric successes, %d failures)\n\n", rep.ResultCount, rep.SuccessCount, rep.FailureCount)
	fmt.Printf("%-24s %8s %8s %8s %8s %7s %7s\n", "METRIC", "MEAN", "STDDEV", "MIN", "MAX", "OK", "FAIL")

	for _, name := range sortedMetricNames(rep) {
		s := rep.Metrics[name]
		if !s.HasData {
			fmt.Printf("%-24s %8s %8s %8s %8s %7d %7d\n", name, "-", "-", "-", "-", s.Success, s.Failure)
			continue
		}
		fmt.Printf("%-24s %8.4f %8.4f %8.4f %8.4f %7d %7d\n", name, s.Mean, s.StdDev, s.Min, s.Max, s.Success, s.Failure)
	}
}

func sortedMetricNames(rep aggregate.Report) []string {
	names := make([]string, 0, len(rep.Metrics))
	for name := range rep.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func printFailureMatrix(cells []aggregate.FailureCell) {
	fmt.Printf("\n%-24s %-52s %6s %6s\n", "METRIC", "USAGE MODE", "FAIL", "TOTAL")
	for _, cell := range cells {
		if cell.Failures == 0 {
			continue
		}
		fmt.Printf("%-24s %-52s %6d %6d\n", cell.Metric, cell.ModeKey, cell.Failures, cell.Total)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := config.SetKey(cfg.Storage.DataDir, key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	extractCmd.Flags().String("input", "", "conversation export (JSONL)")
	extractCmd.Flags().String("output", "output/golden_questions.jsonl", "golden question output path")
	extractCmd.Flags().Int("limit", 0, "process at most N conversations (0 = all)")
	extractCmd.MarkFlagRequired("input")

	sampleCmd.Flags().String("input", "", "golden question file (JSONL)")
	sampleCmd.Flags().String("output", "output/representative_questions.jsonl", "representative subset output path")
	sampleCmd.Flags().Int("max-per-group", 0, "cap per stratum (0 = configured default)")
	sampleCmd.MarkFlagRequired("input")

	queryCmd.Flags().String("input", "", "representative question file (JSONL)")
	queryCmd.Flags().String("output", "output/answers.jsonl", "answer output path")
	queryCmd.MarkFlagRequired("input")

	aggregateCmd.Flags().String("input", "", "evaluation results file (JSONL)")
	aggregateCmd.Flags().String("metric", "", "only results carrying this metric")
	aggregateCmd.Flags().StringSlice("topic", nil, "only results with any of these subject topics")
	aggregateCmd.Flags().String("scope", "", "only results with this document scope")
	aggregateCmd.Flags().String("operation", "", "only results with this operation type")
	aggregateCmd.Flags().String("complexity", "", "only results with this output complexity")
	aggregateCmd.Flags().Bool("failures", true, "print the failure matrix")
	aggregateCmd.MarkFlagRequired("input")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
