// Package pipeline orchestrates the golden-question extraction run: load,
// filter, extract, categorize, deduplicate, and write the outputs plus the
// transparency files that make every exclusion auditable.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/digdir/kunnskapsassistenten/internal/categorize"
	"github.com/digdir/kunnskapsassistenten/internal/dedup"
	"github.com/digdir/kunnskapsassistenten/internal/extract"
	"github.com/digdir/kunnskapsassistenten/internal/filter"
	"github.com/digdir/kunnskapsassistenten/internal/loader"
	"github.com/digdir/kunnskapsassistenten/internal/model"
	"github.com/digdir/kunnskapsassistenten/internal/report"
)

// Transparency file names written next to the main output.
const (
	droppedConversationsFile = "dropped_conversations.jsonl"
	droppedDuplicatesFile    = "dropped_duplicates.jsonl"
	failedReformulationsFile = "failed_reformulations.jsonl"
	failedUsageModeFile      = "failed_usage_mode.jsonl"
	failedSubjectTopicsFile  = "failed_subject_topics.jsonl"
)

// Pipeline wires the extraction stages together.
type Pipeline struct {
	extractor   *extract.Extractor
	categorizer *categorize.Categorizer
	dedup       *dedup.Deduplicator

	// workers bounds concurrent conversation processing.
	workers int
}

// New creates a Pipeline. workers bounds cross-conversation parallelism;
// within a conversation extraction stays strictly sequential because later
// questions' reformulation context depends on earlier messages.
func New(extractor *extract.Extractor, categorizer *categorize.Categorizer, deduplicator *dedup.Deduplicator, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		extractor:   extractor,
		categorizer: categorizer,
		dedup:       deduplicator,
		workers:     workers,
	}
}

// Summary reports what one run produced.
type Summary struct {
	RunID                 string
	ConversationsLoaded   int
	ConversationsSkipped  int
	ConversationsDropped  int
	QuestionsExtracted    int
	FailedReformulations  int
	FailedCategorizations int
	DuplicatesRemoved     int
	QuestionsWritten      int
	DedupDegraded         bool
}

// Run executes the full pipeline from a conversation export to a golden
// question file, writing transparency files next to the output. limit > 0
// caps how many conversations are loaded. On cancellation, work completed
// so far is still flushed before the context error is returned.
func (p *Pipeline) Run(ctx context.Context, inputPath, outputPath string, limit int) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}
	log := slog.With("run_id", summary.RunID)
	log.Info("starting extraction run", "input", inputPath, "output", outputPath, "limit", limit)

	conversations, skipped, err := loader.Load(inputPath, limit)
	if err != nil {
		return summary, fmt.Errorf("loading conversations: %w", err)
	}
	summary.ConversationsLoaded = len(conversations)
	summary.ConversationsSkipped = skipped

	filtered := filter.Filter(conversations)
	summary.ConversationsDropped = len(filtered.Dropped)

	questions, failedReformulations, runErr := p.extractAll(ctx, filtered.Kept)
	summary.QuestionsExtracted = len(questions)
	summary.FailedReformulations = len(failedReformulations)

	var failedUsageMode, failedSubjects []model.FailedQuestion
	var dropped []model.DroppedDuplicate

	if runErr == nil {
		modes := p.categorizer.AssignUsageModes(ctx, questions)
		failedUsageMode = modes.Failed

		topics := p.categorizer.AssignSubjectTopics(ctx, modes.Categorized)
		failedSubjects = topics.Failed
		questions = topics.Categorized
		summary.FailedCategorizations = len(failedUsageMode) + len(failedSubjects)

		deduped := p.dedup.Deduplicate(ctx, questions)
		questions = deduped.Unique
		dropped = deduped.Dropped
		summary.DuplicatesRemoved = len(deduped.Dropped)
		summary.DedupDegraded = deduped.Degraded

		runErr = ctx.Err()
	}

	// Flush everything computed so far even when the run was cancelled.
	dir := filepath.Dir(outputPath)
	writes := []struct {
		path string
		err  error
	}{
		{outputPath, report.WriteGoldenQuestions(outputPath, questions)},
		{filepath.Join(dir, droppedConversationsFile), report.WriteDroppedConversations(filepath.Join(dir, droppedConversationsFile), filtered.Dropped)},
		{filepath.Join(dir, droppedDuplicatesFile), report.WriteDroppedDuplicates(filepath.Join(dir, droppedDuplicatesFile), dropped)},
		{filepath.Join(dir, failedReformulationsFile), report.WriteFailedQuestions(filepath.Join(dir, failedReformulationsFile), failedReformulations)},
		{filepath.Join(dir, failedUsageModeFile), report.WriteFailedQuestions(filepath.Join(dir, failedUsageModeFile), failedUsageMode)},
		{filepath.Join(dir, failedSubjectTopicsFile), report.WriteFailedQuestions(filepath.Join(dir, failedSubjectTopicsFile), failedSubjects)},
	}
	for _, w := range writes {
		if w.err != nil {
			runErr = errors.Join(runErr, w.err)
		}
	}

	summary.QuestionsWritten = len(questions)
	logStatistics(log, questions)
	log.Info("extraction run finished",
		"conversations", summary.ConversationsLoaded,
		"dropped_conversations", summary.ConversationsDropped,
		"questions", summary.QuestionsWritten,
		"duplicates_removed", summary.DuplicatesRemoved,
		"failed_reformulations", summary.FailedReformulations,
		"failed_categorizations", summary.FailedCategorizations,
		"dedup_degraded", summary.DedupDegraded,
	)
	return summary, runErr
}

// extractAll processes conversations in parallel, each worker writing only
// its own slot; results are merged in input order after all workers finish.
func (p *Pipeline) extractAll(ctx context.Context, conversations []model.Conversation) ([]model.GoldenQuestion, []model.FailedQuestion, error) {
	results := make([]extract.Result, len(conversations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := range conversations {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.extractor.Extract(gctx, conversations[i])
			return nil
		})
	}
	err := g.Wait()

	var questions []model.GoldenQuestion
	var failed []model.FailedQuestion
	for _, res := range results {
		questions = append(questions, res.Questions...)
		failed = append(failed, res.Failed...)
	}
	return questions, failed, err
}

// logStatistics logs the usage-mode and subject-topic distribution of the
// final question set.
func logStatistics(log *slog.Logger, questions []model.GoldenQuestion) {
	if len(questions) == 0 {
		return
	}

	modes := make(map[string]int)
	topics := make(map[string]int)
	retrieval := 0
	reformulated := 0

	for _, q := range questions {
		modes[q.UsageMode.Key()]++
		for _, topic := range q.SubjectTopics {
			topics[topic]++
		}
		if q.HasRetrieval {
			retrieval++
		}
		if q.QuestionChanged {
			reformulated++
		}
	}

	log.Info("question set statistics",
		"questions", len(questions),
		"with_retrieval", retrieval,
		"reformulated", reformulated,
		"usage_modes", len(modes),
		"subject_topics", len(topics),
	)
	for _, line := range distribution(modes) {
		log.Debug("usage mode distribution", "entry", line)
	}
	for _, line := range distribution(topics) {
		log.Debug("subject topic distribution", "entry", line)
	}
}

func distribution(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %d", strings.TrimSpace(k), counts[k]))
	}
	return lines
}
