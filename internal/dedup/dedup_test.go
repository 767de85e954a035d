package dedup

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/digdir/kunnskapsassistenten/internal/model"
)

// mockEmbedder returns pre-assigned vectors keyed by text.
type mockEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := m.vectors[text]
		if !ok {
			// Orthogonal default so unrelated texts never collide.
			vec = []float32{0, 0, float32(i + 1)}
		}
		out[i] = vec
	}
	return out, nil
}

func question(id, text string) model.GoldenQuestion {
	return model.GoldenQuestion{ID: id, ConversationID: "c-" + id, Question: text, OriginalQuestion: text}
}

func TestDeduplicate_ExactMatch(t *testing.T) {
	d := New(nil, 0.92)
	res := d.Deduplicate(context.Background(), []model.GoldenQuestion{
		question("a_0", "Hva er budsjettet til Digdir?"),
		question("b_0", "hva er budsjettet til  Digdir"),
		question("c_0", "Hvilke mål gjelder for 2025?"),
	})

	if len(res.Unique) != 2 {
		t.Fatalf("unique = %d, want 2", len(res.Unique))
	}
	if res.Unique[0].ID != "a_0" || res.Unique[1].ID != "c_0" {
		t.Errorf("unique ids = %s, %s (first occurrence must win)", res.Unique[0].ID, res.Unique[1].ID)
	}
	if len(res.Dropped) != 1 {
		t.Fatalf("dropped = %d, want 1", len(res.Dropped))
	}
	rec := res.Dropped[0]
	if rec.MatchType != model.MatchExact || rec.SimilarityScore != 1.0 {
		t.Errorf("record = %+v", rec)
	}
	if rec.NormalizedForm != "hva er budsjettet til digdir" {
		t.Errorf("NormalizedForm = %q", rec.NormalizedForm)
	}
	if rec.DropReason != "Duplicate of earlier question" {
		t.Errorf("DropReason = %q", rec.DropReason)
	}
	if rec.KeptOriginal.ConversationID != "c-a_0" {
		t.Errorf("KeptOriginal = %+v", rec.KeptOriginal)
	}
}

func TestDeduplicate_SemanticMatch(t *testing.T) {
	// a and b point nearly the same way (similarity ~0.94); c is orthogonal.
	emb := &mockEmbedder{vectors: map[string][]float32{
		"Hva er budsjettet til Digdir?":     {1, 0.35, 0},
		"Hva er Digdir sitt budsjett?":      {1, 0, 0},
		"Hvilke mål gjelder for 2025?":      {0, 0, 1},
	}}
	d := New(emb, 0.92)

	res := d.Deduplicate(context.Background(), []model.GoldenQuestion{
		question("a_0", "Hva er budsjettet til Digdir?"),
		question("b_0", "Hva er Digdir sitt budsjett?"),
		question("c_0", "Hvilke mål gjelder for 2025?"),
	})

	if len(res.Unique) != 2 {
		t.Fatalf("unique = %d, want 2", len(res.Unique))
	}
	if res.Unique[0].ID != "a_0" || res.Unique[1].ID != "c_0" {
		t.Errorf("unique ids = %s, %s", res.Unique[0].ID, res.Unique[1].ID)
	}
	if len(res.Dropped) != 1 {
		t.Fatalf("dropped = %d, want 1", len(res.Dropped))
	}
	rec := res.Dropped[0]
	if rec.MatchType != model.MatchSemantic {
		t.Errorf("MatchType = %q", rec.MatchType)
	}
	if rec.SimilarityScore < 0.92 || rec.SimilarityScore >= 1.0 {
		t.Errorf("SimilarityScore = %v", rec.SimilarityScore)
	}
	// Rounded to 4 decimals.
	if rec.SimilarityScore != math.Round(rec.SimilarityScore*10000)/10000 {
		t.Errorf("SimilarityScore %v not rounded", rec.SimilarityScore)
	}
	if res.Degraded {
		t.Error("Degraded = true on successful run")
	}
}

func TestDeduplicate_ThresholdIsInclusive(t *testing.T) {
	// dot = 4, norms 5 and 1, so cos(a, b) = 0.8 exactly in float arithmetic.
	emb := &mockEmbedder{vectors: map[string][]float32{
		"Spørsmål en": {4, 3},
		"Spørsmål to": {1, 0},
	}}
	d := New(emb, 0.8)

	res := d.Deduplicate(context.Background(), []model.GoldenQuestion{
		question("a_0", "Spørsmål en"),
		question("b_0", "Spørsmål to"),
	})
	if len(res.Unique) != 1 {
		t.Errorf("unique = %d, want 1 (similarity equal to threshold drops)", len(res.Unique))
	}
}

func TestDeduplicate_EmbedFailureDegrades(t *testing.T) {
	emb := &mockEmbedder{err: errors.New("embedding service down")}
	d := New(emb, 0.92)

	res := d.Deduplicate(context.Background(), []model.GoldenQuestion{
		question("a_0", "Hva er budsjettet til Digdir?"),
		question("b_0", "hva er budsjettet til digdir?"),
		question("c_0", "Hvilke mål gjelder for 2025?"),
	})

	if !res.Degraded {
		t.Error("Degraded = false after embedding failure")
	}
	// Exact-stage result still applies.
	if len(res.Unique) != 2 || len(res.Dropped) != 1 {
		t.Errorf("unique = %d dropped = %d, want 2 and 1", len(res.Unique), len(res.Dropped))
	}
}

func TestDeduplicate_Idempotent(t *testing.T) {
	emb := &mockEmbedder{vectors: map[string][]float32{
		"Hva er budsjettet til Digdir?": {1, 0.35, 0},
		"Hva er Digdir sitt budsjett?":  {1, 0, 0},
	}}
	d := New(emb, 0.92)

	first := d.Deduplicate(context.Background(), []model.GoldenQuestion{
		question("a_0", "Hva er budsjettet til Digdir?"),
		question("b_0", "Hva er Digdir sitt budsjett?"),
	})
	second := d.Deduplicate(context.Background(), first.Unique)

	if len(second.Unique) != len(first.Unique) {
		t.Errorf("second pass changed output: %d vs %d", len(second.Unique), len(first.Unique))
	}
	if len(second.Dropped) != 0 {
		t.Errorf("second pass dropped %d questions", len(second.Dropped))
	}
}

func TestDeduplicate_SingleAndEmpty(t *testing.T) {
	emb := &mockEmbedder{}
	d := New(emb, 0.92)

	if res := d.Deduplicate(context.Background(), nil); len(res.Unique) != 0 {
		t.Errorf("empty input produced %d questions", len(res.Unique))
	}
	res := d.Deduplicate(context.Background(), []model.GoldenQuestion{question("a_0", "Hva?")})
	if len(res.Unique) != 1 {
		t.Errorf("single input = %d unique", len(res.Unique))
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times for inputs below pair size", emb.calls)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hva er budsjettet?", "hva er budsjettet"},
		{"  Hva   er\tbudsjettet  ", "hva er budsjettet"},
		{"HVA ER BUDSJETTET!!!", "hva er budsjettet"},
		{"Når kommer årsrapporten?", "når kommer årsrapporten"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors = %v", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors = %v", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("zero vector = %v", got)
	}
	if got := CosineSimilarity([]float32{1}, []float32{1, 0}); got != 0 {
		t.Errorf("mismatched lengths = %v", got)
	}
}
