package api

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/digdir/kunnskapsassistenten/internal/model"
)

func score(v float64) model.MetricScore {
	return model.MetricScore{Score: &v, Success: true}
}

func testResults() []model.EvaluationResult {
	return []model.EvaluationResult{
		{
			QuestionID: "a_0",
			Question:   "Hva er budsjettet til Digdir i 2024?",
			Answer:     "1,2 mrd.",
			Metrics:    map[string]model.MetricScore{"Faithfulness": score(0.9)},
			Metadata: map[string]any{
				"subject_topics": []any{"Økonomi og budsjett"},
				"usage_mode": map[string]any{
					"document_scope":    "single_document",
					"operation_type":    "simple_qa",
					"output_complexity": "factoid",
				},
			},
		},
		{
			QuestionID: "b_0",
			Question:   "Sammenlign prioriteringene til Digdir og DFØ",
			Answer:     "...",
			Metrics:    map[string]model.MetricScore{"Faithfulness": score(0.5), "AnswerRelevancy": {Success: false, Error: "timeout"}},
			Metadata: map[string]any{
				"subject_topics": []any{"Forvaltning og etatsstyring"},
				"usage_mode": map[string]any{
					"document_scope":    "multi_document",
					"operation_type":    "comparison",
					"output_complexity": "prose",
				},
			},
		},
	}
}

func get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	srv := httptest.NewServer(NewServer(testResults()).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding %s: %v", path, err)
	}
	return resp, body
}

func TestHealth(t *testing.T) {
	resp, body := get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" || body["results"] != float64(2) {
		t.Errorf("body = %v", body)
	}
}

func TestReport_Unfiltered(t *testing.T) {
	resp, body := get(t, "/api/report")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	metrics := body["metrics"].(map[string]any)
	faithfulness := metrics["Faithfulness"].(map[string]any)
	if mean := faithfulness["mean"].(float64); math.Abs(mean-0.7) > 1e-9 {
		t.Errorf("mean = %v", mean)
	}
	if body["result_count"] != float64(2) {
		t.Errorf("result_count = %v", body["result_count"])
	}
}

func TestReport_FilteredByScope(t *testing.T) {
	_, body := get(t, "/api/report?scope=single_document")
	if body["result_count"] != float64(1) {
		t.Errorf("result_count = %v", body["result_count"])
	}
	metrics := body["metrics"].(map[string]any)
	faithfulness := metrics["Faithfulness"].(map[string]any)
	if faithfulness["mean"] != 0.9 {
		t.Errorf("mean = %v", faithfulness["mean"])
	}
}

func TestReport_InvalidScopeRejected(t *testing.T) {
	resp, body := get(t, "/api/report?scope=every_document")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] == nil {
		t.Error("error body missing")
	}
}

func TestMetricsTopicsUsageModes(t *testing.T) {
	_, body := get(t, "/api/metrics")
	metrics := body["metrics"].([]any)
	if len(metrics) != 2 || metrics[0] != "AnswerRelevancy" {
		t.Errorf("metrics = %v", metrics)
	}

	_, body = get(t, "/api/topics")
	topics := body["topics"].([]any)
	if len(topics) != 2 {
		t.Errorf("topics = %v", topics)
	}

	_, body = get(t, "/api/usage-modes")
	scopes := body["document_scope"].([]any)
	if len(scopes) != 2 {
		t.Errorf("document_scope = %v", scopes)
	}
}

func TestFailures(t *testing.T) {
	_, body := get(t, "/api/failures")
	failures := body["failures"].([]any)
	if len(failures) != 3 {
		t.Fatalf("failure cells = %d, want 3", len(failures))
	}
	first := failures[0].(map[string]any)
	if first["metric"] != "AnswerRelevancy" || first["failures"] != float64(1) {
		t.Errorf("first cell = %v", first)
	}
}

func TestResults_PagingAndFilter(t *testing.T) {
	_, body := get(t, "/api/results?limit=1")
	if body["total"] != float64(2) {
		t.Errorf("total = %v", body["total"])
	}
	results := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("page size = %d", len(results))
	}
	first := results[0].(map[string]any)
	if first["question_id"] != "a_0" {
		t.Errorf("first result = %v", first["question_id"])
	}

	_, body = get(t, "/api/results?topic=Forvaltning+og+etatsstyring")
	if body["total"] != float64(1) {
		t.Errorf("filtered total = %v", body["total"])
	}

	resp, _ := get(t, "/api/results?limit=abc")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d for bad limit", resp.StatusCode)
	}
}
