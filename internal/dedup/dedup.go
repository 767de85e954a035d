// Package dedup removes duplicate golden questions in two stages: exact
// matching on normalized text, then semantic matching on embedding cosine
// similarity. The first occurrence always wins.
package dedup

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"unicode"

	"github.com/digdir/kunnskapsassistenten/internal/model"
)

const dropReason = "Duplicate of earlier question"

// Embedder produces one embedding vector per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Deduplicator removes duplicates at or above the similarity threshold.
// A nil embedder disables the semantic stage.
type Deduplicator struct {
	embedder  Embedder
	threshold float64
}

// New creates a Deduplicator with the given cosine similarity threshold.
func New(embedder Embedder, threshold float64) *Deduplicator {
	return &Deduplicator{embedder: embedder, threshold: threshold}
}

// Result holds the retained questions, drop records for the removed
// duplicates, and whether the semantic stage had to be skipped.
type Result struct {
	Unique  []model.GoldenQuestion
	Dropped []model.DroppedDuplicate

	// Degraded is set when embedding failed and only exact matching ran.
	Degraded bool
}

// Deduplicate removes duplicate questions, preserving input order among the
// retained ones. Embedding failure degrades to exact-only matching instead of
// failing the run; the Degraded flag records that the output may still hold
// semantic duplicates.
func (d *Deduplicator) Deduplicate(ctx context.Context, questions []model.GoldenQuestion) Result {
	var res Result
	if len(questions) == 0 {
		return res
	}

	// Stage 1: exact match on normalized text.
	seen := make(map[string]model.GoldenQuestion)
	for _, q := range questions {
		normalized := Normalize(q.Question)
		if original, ok := seen[normalized]; ok {
			res.Dropped = append(res.Dropped, dropRecord(q, original, 1.0))
			continue
		}
		seen[normalized] = q
		res.Unique = append(res.Unique, q)
	}
	exactDropped := len(res.Dropped)

	// Stage 2: semantic similarity among the survivors.
	if d.embedder != nil && len(res.Unique) > 1 {
		semantic, err := d.semanticPass(ctx, res.Unique)
		if err != nil {
			slog.Warn("semantic deduplication failed, falling back to exact match", "error", err)
			res.Degraded = true
		} else {
			res.Unique = semantic.Unique
			res.Dropped = append(res.Dropped, semantic.Dropped...)
		}
	}

	slog.Info("deduplicated questions",
		"input", len(questions),
		"unique", len(res.Unique),
		"exact_duplicates", exactDropped,
		"semantic_duplicates", len(res.Dropped)-exactDropped,
		"degraded", res.Degraded,
	)
	return res
}

// semanticPass embeds the questions and drops each one whose similarity to
// an earlier retained question reaches the threshold.
func (d *Deduplicator) semanticPass(ctx context.Context, questions []model.GoldenQuestion) (Result, error) {
	texts := make([]string, len(questions))
	for i, q := range questions {
		texts[i] = q.Question
	}

	embeddings, err := d.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return Result{}, err
	}

	var res Result
	removed := make([]bool, len(questions))

	for i := range questions {
		if removed[i] {
			continue
		}
		for j := i + 1; j < len(questions); j++ {
			if removed[j] {
				continue
			}
			similarity := CosineSimilarity(embeddings[i], embeddings[j])
			if similarity >= d.threshold {
				removed[j] = true
				res.Dropped = append(res.Dropped, dropRecord(questions[j], questions[i], similarity))
			}
		}
	}

	for i, q := range questions {
		if !removed[i] {
			res.Unique = append(res.Unique, q)
		}
	}
	return res, nil
}

func dropRecord(duplicate, original model.GoldenQuestion, similarity float64) model.DroppedDuplicate {
	matchType := model.MatchSemantic
	if similarity == 1.0 {
		matchType = model.MatchExact
	}
	return model.DroppedDuplicate{
		DroppedQuestion: duplicate.Ref(),
		KeptOriginal:    original.Ref(),
		SimilarityScore: math.Round(similarity*10000) / 10000,
		MatchType:       matchType,
		NormalizedForm:  Normalize(duplicate.Question),
		DropReason:      dropReason,
	}
}

// Normalize lowercases text, strips punctuation, and collapses whitespace so
// trivially different phrasings compare equal.
func Normalize(text string) string {
	text = strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Zero vectors and mismatched lengths yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
