package ragclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/digdir/kunnskapsassistenten/internal/config"
	"github.com/digdir/kunnskapsassistenten/internal/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.RAGConfig{
		BaseURL:   srv.URL,
		APIKey:    "secret",
		UserEmail: "eval@digdir.no",
	}, fastPolicy())
}

func TestQuery_SendsHeadersAndPayload(t *testing.T) {
	var gotPath, gotKey, gotEmail string
	var gotPayload map[string]any

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		gotEmail = r.Header.Get("X-User-Email")
		json.NewDecoder(r.Body).Decode(&gotPayload)

		json.NewEncoder(w).Encode(map[string]any{
			"answer":          "Budsjettet er 1,2 mrd.",
			"conversation-id": "conv-42",
			"chunks-used": []map[string]any{
				{"chunk-id": "c1", "doc-title": "Tildelingsbrev Digdir 2024", "doc-num": "24/1", "content-markdown": "..."},
			},
		})
	})

	resp, err := c.Query(context.Background(), Request{
		Query:         "Hva er budsjettet til Digdir i 2024?",
		DocumentTypes: []string{"Tildelingsbrev"},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if gotPath != "/api/rag" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" || gotEmail != "eval@digdir.no" {
		t.Errorf("headers = %q, %q", gotKey, gotEmail)
	}
	if gotPayload["query"] != "Hva er budsjettet til Digdir i 2024?" {
		t.Errorf("payload query = %v", gotPayload["query"])
	}
	types, _ := gotPayload["type"].([]any)
	if len(types) != 1 || types[0] != "Tildelingsbrev" {
		t.Errorf("payload type = %v", gotPayload["type"])
	}
	if orgs, ok := gotPayload["org"].([]any); !ok || len(orgs) != 0 {
		t.Errorf("payload org = %v, want empty list", gotPayload["org"])
	}

	if resp.Answer != "Budsjettet er 1,2 mrd." || resp.ConversationID != "conv-42" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.ChunksUsed) != 1 || resp.ChunksUsed[0].DocTitle != "Tildelingsbrev Digdir 2024" {
		t.Errorf("chunks = %+v", resp.ChunksUsed)
	}
}

func TestQuery_RetriesServerErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "overloaded", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"answer": "Svar"})
	})

	resp, err := c.Query(context.Background(), Request{Query: "Hva?"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if resp.Answer != "Svar" {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestQuery_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	if _, err := c.Query(context.Background(), Request{Query: "Hva?"}); err == nil {
		t.Fatal("Query should fail on 401")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (4xx is permanent)", calls)
	}
}

func TestQuery_EmptyAnswerRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"answer": ""})
	})
	if _, err := c.Query(context.Background(), Request{Query: "Hva?"}); err == nil {
		t.Error("Query should reject an empty answer")
	}
}
