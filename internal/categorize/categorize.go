// Package categorize assigns usage modes and subject topics to golden
// questions through injected classification capabilities. Questions the
// classifier cannot handle after retries are removed from the stream and
// reported, never silently dropped.
package categorize

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/digdir/kunnskapsassistenten/internal/model"
	"github.com/digdir/kunnskapsassistenten/internal/retry"
)

// StageUsageMode and StageSubjectTopics tag failure records with the stage
// that produced them.
const (
	StageUsageMode     = "usage_mode_categorization"
	StageSubjectTopics = "subject_topic_categorization"
)

// UsageModeClassifier decides which usage mode a question exercises.
type UsageModeClassifier interface {
	ClassifyUsageMode(ctx context.Context, question string) (model.UsageMode, error)
}

// SubjectClassifier decides which subject domains a question touches.
type SubjectClassifier interface {
	ClassifySubjects(ctx context.Context, question string) ([]string, error)
}

// Categorizer runs both classification stages over question batches with
// bounded parallelism.
type Categorizer struct {
	usage    UsageModeClassifier
	subjects SubjectClassifier
	policy   retry.Policy
	workers  int
}

// New creates a Categorizer. workers bounds concurrent classifier calls;
// values below 1 mean sequential.
func New(usage UsageModeClassifier, subjects SubjectClassifier, policy retry.Policy, workers int) *Categorizer {
	if workers < 1 {
		workers = 1
	}
	return &Categorizer{usage: usage, subjects: subjects, policy: policy, workers: workers}
}

// Result splits a batch into categorized questions and failure records for
// the rest. Categorized preserves the input order of the surviving questions.
type Result struct {
	Categorized []model.GoldenQuestion
	Failed      []model.FailedQuestion
}

// Categorize runs usage-mode classification followed by subject-topic
// classification. A question that fails either stage is excluded from the
// output and reported once, tagged with the stage that failed.
func (c *Categorizer) Categorize(ctx context.Context, questions []model.GoldenQuestion) Result {
	modes := c.AssignUsageModes(ctx, questions)
	topics := c.AssignSubjectTopics(ctx, modes.Categorized)

	return Result{
		Categorized: topics.Categorized,
		Failed:      append(modes.Failed, topics.Failed...),
	}
}

// AssignUsageModes classifies each question's usage mode.
func (c *Categorizer) AssignUsageModes(ctx context.Context, questions []model.GoldenQuestion) Result {
	res := c.run(ctx, questions, StageUsageMode, func(ctx context.Context, q *model.GoldenQuestion) error {
		mode, err := retry.DoWithResult(ctx, c.policy, func() (model.UsageMode, error) {
			return c.usage.ClassifyUsageMode(ctx, q.Question)
		})
		if err != nil {
			return err
		}
		q.UsageMode = mode
		return nil
	})

	slog.Info("usage mode categorization complete",
		"successful", len(res.Categorized),
		"failed", len(res.Failed),
	)
	return res
}

// AssignSubjectTopics classifies each question's subject topics.
func (c *Categorizer) AssignSubjectTopics(ctx context.Context, questions []model.GoldenQuestion) Result {
	res := c.run(ctx, questions, StageSubjectTopics, func(ctx context.Context, q *model.GoldenQuestion) error {
		topics, err := retry.DoWithResult(ctx, c.policy, func() ([]string, error) {
			return c.subjects.ClassifySubjects(ctx, q.Question)
		})
		if err != nil {
			return err
		}
		q.SubjectTopics = topics
		return nil
	})

	slog.Info("subject topic categorization complete",
		"successful", len(res.Categorized),
		"failed", len(res.Failed),
	)
	return res
}

// run applies op to every question with bounded parallelism, keeping the
// surviving questions in input order. Classifier errors become failure
// records rather than aborting the batch, so the errgroup only carries
// context cancellation.
func (c *Categorizer) run(ctx context.Context, questions []model.GoldenQuestion, stage string, op func(context.Context, *model.GoldenQuestion) error) Result {
	out := make([]model.GoldenQuestion, len(questions))
	errs := make([]error, len(questions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i := range questions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			q := questions[i]
			errs[i] = op(ctx, &q)
			out[i] = q
			return nil
		})
	}
	g.Wait()

	var res Result
	for i := range questions {
		if errs[i] != nil {
			slog.Warn("categorization failed, excluding question",
				"question_id", questions[i].ID, "stage", stage, "error", errs[i])
			res.Failed = append(res.Failed, model.FailedQuestion{
				ID:               questions[i].ID,
				ConversationID:   questions[i].ConversationID,
				Question:         questions[i].Question,
				OriginalQuestion: questions[i].OriginalQuestion,
				FailureStage:     stage,
				FailureReason:    errs[i].Error(),
			})
			continue
		}
		res.Categorized = append(res.Categorized, out[i])
	}
	return res
}
