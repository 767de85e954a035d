package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/digdir/kunnskapsassistenten/internal/model"
	"github.com/digdir/kunnskapsassistenten/internal/ragclient"
)

// Querier answers one question against the RAG system under evaluation.
type Querier interface {
	Query(ctx context.Context, req ragclient.Request) (*ragclient.Response, error)
}

// QueryQuestions sends each question to the RAG system with bounded
// parallelism and returns one result per question, in input order. A failed
// query produces a result with the error recorded instead of aborting the
// batch; scoring decides what to do with it.
func QueryQuestions(ctx context.Context, querier Querier, questions []model.GoldenQuestion, workers int) []model.EvaluationResult {
	if workers < 1 {
		workers = 1
	}
	results := make([]model.EvaluationResult, len(questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range questions {
		g.Go(func() error {
			results[i] = queryOne(gctx, querier, questions[i])
			return nil
		})
	}
	g.Wait()

	failures := 0
	for _, r := range results {
		if r.Error != "" {
			failures++
		}
	}
	slog.Info("queried rag system", "questions", len(questions), "failures", failures)
	return results
}

func queryOne(ctx context.Context, querier Querier, q model.GoldenQuestion) model.EvaluationResult {
	result := model.EvaluationResult{
		QuestionID: q.ID,
		Question:   q.Question,
		Metadata: map[string]any{
			"conversation_id": q.ConversationID,
			"usage_mode":      q.UsageMode,
			"subject_topics":  q.SubjectTopics,
			"document_types":  q.DocumentTypes,
			"has_retrieval":   q.HasRetrieval,
		},
	}

	resp, err := querier.Query(ctx, ragclient.Request{
		Query:         q.Question,
		DocumentTypes: q.DocumentTypes,
		Organizations: q.Filters["orgs_long"],
	})
	if err != nil {
		slog.Warn("rag query failed", "question_id", q.ID, "error", err)
		result.Error = err.Error()
		return result
	}

	result.Answer = resp.Answer
	for _, chunk := range resp.ChunksUsed {
		result.Chunks = append(result.Chunks, model.AnswerChunk{
			ChunkID:  chunk.ChunkID,
			DocTitle: chunk.DocTitle,
			Content:  chunk.ContentMarkdown,
		})
	}
	return result
}
