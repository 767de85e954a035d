package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestGoldenQuestionRoundTrip(t *testing.T) {
	q := GoldenQuestion{
		ID:               "abc_1",
		Question:         "Hva er budsjettet til Digdir i 2024?",
		OriginalQuestion: "Hva er budsjettet?",
		ConversationID:   "abc",
		ContextMessages: []ContextMessage{
			{Role: "assistant", Text: "Digdir sitt tildelingsbrev for 2024 ..."},
		},
		HasRetrieval: true,
		UsageMode: UsageMode{
			DocumentScope:    ScopeSingleDocument,
			OperationType:    OpSimpleQA,
			OutputComplexity: ComplexityFactoid,
		},
		DocumentTypes:   []string{"Tildelingsbrev"},
		SubjectTopics:   []string{"Økonomi og budsjett"},
		Metadata:        map[string]any{"topic": "Budsjett"},
		QuestionChanged: true,
		Filters:         map[string][]string{"type": {"Tildelingsbrev"}},
	}

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got GoldenQuestion
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, q) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, q)
	}
}

func TestParseUsageMode(t *testing.T) {
	tests := []struct {
		scope, op, complexity string
		wantErr               bool
	}{
		{"single_document", "simple_qa", "factoid", false},
		{"multi_document", "cross_reference", "table", false},
		{"multi_document", "gap_analysis", "prose", false},
		{"both", "simple_qa", "factoid", true},
		{"single_document", "lookup", "factoid", true},
		{"single_document", "simple_qa", "paragraph", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		_, err := ParseUsageMode(tt.scope, tt.op, tt.complexity)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseUsageMode(%q,%q,%q) err = %v, wantErr %v",
				tt.scope, tt.op, tt.complexity, err, tt.wantErr)
		}
	}
}

func TestUsageModeKey(t *testing.T) {
	um := UsageMode{ScopeMultiDocument, OpComparison, ComplexityProse}
	if got, want := um.Key(), "multi_document/comparison/prose"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestEvaluationResultMetadataAccessors(t *testing.T) {
	line := `{
		"question_id": "abc_0",
		"question": "Hva er budsjettet?",
		"answer": "Budsjettet er ...",
		"chunks": [],
		"metrics": {"Faithfulness": {"score": 0.9, "success": true, "threshold": 0.7}},
		"metadata": {
			"subject_topics": ["Økonomi og budsjett"],
			"usage_mode": {
				"document_scope": "single_document",
				"operation_type": "simple_qa",
				"output_complexity": "factoid"
			}
		}
	}`
	var r EvaluationResult
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got := r.SubjectTopics(); !reflect.DeepEqual(got, []string{"Økonomi og budsjett"}) {
		t.Errorf("SubjectTopics() = %v", got)
	}
	um, ok := r.ResultUsageMode()
	if !ok {
		t.Fatal("ResultUsageMode() reported no usage mode")
	}
	if um.OperationType != OpSimpleQA {
		t.Errorf("OperationType = %q, want simple_qa", um.OperationType)
	}

	score := r.Metrics["Faithfulness"]
	if score.Score == nil || *score.Score != 0.9 || !score.Success {
		t.Errorf("Faithfulness = %+v, want score 0.9 success", score)
	}
}
