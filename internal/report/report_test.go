package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/digdir/kunnskapsassistenten/internal/model"
)

func TestGoldenQuestions_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "golden_questions.jsonl")

	in := []model.GoldenQuestion{
		{
			ID:               "abc_0",
			Question:         "Hva er budsjettet til Digdir i 2024?",
			OriginalQuestion: "Hva er budsjettet til Digdir i 2024?",
			ConversationID:   "abc",
			HasRetrieval:     true,
			SubjectTopics:    []string{"Økonomi og budsjett"},
			UsageMode: model.UsageMode{
				DocumentScope:    model.ScopeSingleDocument,
				OperationType:    model.OpSimpleQA,
				OutputComplexity: model.ComplexityFactoid,
			},
		},
		{ID: "abc_1", Question: "Hvilke mål gjelder?", OriginalQuestion: "Og hvilke mål?", ConversationID: "abc", QuestionChanged: true},
	}

	if err := WriteGoldenQuestions(path, in); err != nil {
		t.Fatalf("WriteGoldenQuestions: %v", err)
	}

	out, skipped, err := ReadGoldenQuestions(path)
	if err != nil {
		t.Fatalf("ReadGoldenQuestions: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d", skipped)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].ID != "abc_0" || !out[0].HasRetrieval || out[0].UsageMode.OperationType != model.OpSimpleQA {
		t.Errorf("first question = %+v", out[0])
	}
	if !out[1].QuestionChanged {
		t.Error("QuestionChanged lost in round trip")
	}
}

func TestWrite_NoHTMLEscaping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.jsonl")
	in := []model.GoldenQuestion{{ID: "a_0", Question: "Er A < B & C > D?", ConversationID: "a"}}

	if err := WriteGoldenQuestions(path, in); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "\\u003c") || strings.Contains(string(raw), "\\u0026") {
		t.Errorf("output is HTML-escaped: %s", raw)
	}
	if !strings.Contains(string(raw), "A < B & C > D") {
		t.Errorf("question text mangled: %s", raw)
	}
}

func TestWriteFailedQuestions_EmptyFileStillWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.jsonl")
	if err := WriteFailedQuestions(path, nil); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("size = %d, want 0", info.Size())
	}
}

func TestReadGoldenQuestions_SkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.jsonl")
	content := `{"id":"a_0","question":"Hva?","conversation_id":"a"}` + "\n" +
		"not json\n" +
		`{"question":"mangler id"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	questions, skipped, err := ReadGoldenQuestions(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(questions) != 1 || skipped != 2 {
		t.Errorf("questions = %d skipped = %d, want 1 and 2", len(questions), skipped)
	}
}

func TestEvaluationResults_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	v := 0.85
	in := []model.EvaluationResult{
		{
			QuestionID: "abc_0",
			Question:   "Hva er budsjettet?",
			Answer:     "1,2 mrd.",
			Metrics: map[string]model.MetricScore{
				"Faithfulness": {Score: &v, Success: true},
				"Relevancy":    {Success: false, Error: "timeout"},
			},
			Metadata: map[string]any{"subject_topics": []any{"Økonomi og budsjett"}},
		},
	}

	if err := WriteEvaluationResults(path, in); err != nil {
		t.Fatal(err)
	}
	out, skipped, err := ReadEvaluationResults(path)
	if err != nil {
		t.Fatal(err)
	}
	if skipped != 0 || len(out) != 1 {
		t.Fatalf("out = %d skipped = %d", len(out), skipped)
	}
	m := out[0].Metrics["Faithfulness"]
	if m.Score == nil || *m.Score != 0.85 || !m.Success {
		t.Errorf("Faithfulness = %+v", m)
	}
	if out[0].Metrics["Relevancy"].Success {
		t.Error("failed metric read back as success")
	}
	if topics := out[0].SubjectTopics(); len(topics) != 1 || topics[0] != "Økonomi og budsjett" {
		t.Errorf("topics = %v", topics)
	}
}

func TestDroppedRecords_Written(t *testing.T) {
	dir := t.TempDir()

	convPath := filepath.Join(dir, "dropped_conversations.jsonl")
	err := WriteDroppedConversations(convPath, []model.DroppedConversation{
		{ConversationID: "x", Topic: "Ny tråd", DropReason: "Ny tråd with no user messages", MessageCount: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	dupPath := filepath.Join(dir, "dropped_duplicates.jsonl")
	err = WriteDroppedDuplicates(dupPath, []model.DroppedDuplicate{
		{
			DroppedQuestion: model.QuestionRef{Text: "Hva er budsjettet?", ConversationID: "b"},
			KeptOriginal:    model.QuestionRef{Text: "Hva er budsjettet?", ConversationID: "a"},
			SimilarityScore: 1.0,
			MatchType:       model.MatchExact,
			NormalizedForm:  "hva er budsjettet",
			DropReason:      "Duplicate of earlier question",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{convPath, dupPath} {
		raw, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if !strings.HasSuffix(string(raw), "\n") {
			t.Errorf("%s does not end with newline", p)
		}
	}
}

func TestRead_MissingFile(t *testing.T) {
	if _, _, err := ReadGoldenQuestions(filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Error("ReadGoldenQuestions should fail on missing file")
	}
}
