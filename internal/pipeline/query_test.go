package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/digdir/kunnskapsassistenten/internal/model"
	"github.com/digdir/kunnskapsassistenten/internal/ragclient"
)

// mockQuerier answers queries from a table and can fail selected questions.
type mockQuerier struct {
	mu       sync.Mutex
	fail     map[string]error
	requests []ragclient.Request
}

func (m *mockQuerier) Query(_ context.Context, req ragclient.Request) (*ragclient.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if err := m.fail[req.Query]; err != nil {
		return nil, err
	}
	return &ragclient.Response{
		Answer:         "Svar på: " + req.Query,
		ConversationID: "conv-1",
		ChunksUsed: []ragclient.Chunk{
			{ChunkID: "c1", DocTitle: "Tildelingsbrev Digdir 2024", ContentMarkdown: "innhold"},
		},
	}, nil
}

func goldenQ(id, text string) model.GoldenQuestion {
	return model.GoldenQuestion{
		ID:             id,
		ConversationID: "conv",
		Question:       text,
		DocumentTypes:  []string{"Tildelingsbrev"},
		SubjectTopics:  []string{"Økonomi og budsjett"},
		Filters:        map[string][]string{"orgs_long": {"Digitaliseringsdirektoratet"}},
	}
}

func TestQueryQuestions_InputOrderPreserved(t *testing.T) {
	m := &mockQuerier{}
	var questions []model.GoldenQuestion
	for i := 0; i < 12; i++ {
		questions = append(questions, goldenQ(fmt.Sprintf("a_%d", i), fmt.Sprintf("Spørsmål %d?", i)))
	}

	results := QueryQuestions(context.Background(), m, questions, 4)
	if len(results) != 12 {
		t.Fatalf("results = %d", len(results))
	}
	for i, r := range results {
		if r.QuestionID != fmt.Sprintf("a_%d", i) {
			t.Fatalf("position %d holds %s", i, r.QuestionID)
		}
		if r.Error != "" {
			t.Errorf("unexpected error on %s: %s", r.QuestionID, r.Error)
		}
	}
}

func TestQueryQuestions_ForwardsFacets(t *testing.T) {
	m := &mockQuerier{}
	QueryQuestions(context.Background(), m, []model.GoldenQuestion{goldenQ("a_0", "Hva er budsjettet?")}, 1)

	if len(m.requests) != 1 {
		t.Fatalf("requests = %d", len(m.requests))
	}
	req := m.requests[0]
	if len(req.DocumentTypes) != 1 || req.DocumentTypes[0] != "Tildelingsbrev" {
		t.Errorf("DocumentTypes = %v", req.DocumentTypes)
	}
	if len(req.Organizations) != 1 || req.Organizations[0] != "Digitaliseringsdirektoratet" {
		t.Errorf("Organizations = %v", req.Organizations)
	}
}

func TestQueryQuestions_FailureIsolated(t *testing.T) {
	m := &mockQuerier{fail: map[string]error{"Feiler?": errors.New("rag api returned 500")}}
	questions := []model.GoldenQuestion{
		goldenQ("a_0", "Virker?"),
		goldenQ("a_1", "Feiler?"),
		goldenQ("a_2", "Virker også?"),
	}

	results := QueryQuestions(context.Background(), m, questions, 2)
	if results[0].Error != "" || results[2].Error != "" {
		t.Error("healthy questions affected by the failing one")
	}
	if results[1].Error == "" || results[1].Answer != "" {
		t.Errorf("failed result = %+v", results[1])
	}
	// Metadata still attached for aggregation by category.
	if topics := results[1].SubjectTopics(); len(topics) != 1 {
		t.Errorf("failed result metadata topics = %v", topics)
	}
}

func TestQueryQuestions_CarriesMetadata(t *testing.T) {
	m := &mockQuerier{}
	q := goldenQ("a_0", "Hva er budsjettet?")
	q.UsageMode = model.UsageMode{
		DocumentScope:    model.ScopeSingleDocument,
		OperationType:    model.OpSimpleQA,
		OutputComplexity: model.ComplexityFactoid,
	}

	results := QueryQuestions(context.Background(), m, []model.GoldenQuestion{q}, 1)
	mode, ok := results[0].ResultUsageMode()
	if !ok || mode.OperationType != model.OpSimpleQA {
		t.Errorf("usage mode metadata = %+v ok = %v", mode, ok)
	}
	if len(results[0].Chunks) != 1 || results[0].Chunks[0].DocTitle != "Tildelingsbrev Digdir 2024" {
		t.Errorf("chunks = %+v", results[0].Chunks)
	}
}
