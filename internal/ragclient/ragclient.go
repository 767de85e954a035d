// Package ragclient queries the production RAG API so sampled golden
// questions can be answered and scored.
package ragclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/digdir/kunnskapsassistenten/internal/config"
	"github.com/digdir/kunnskapsassistenten/internal/retry"
)

// requestTimeout bounds a single RAG query; the API runs retrieval plus
// generation per call.
const requestTimeout = 60 * time.Second

// Request is one question sent to the RAG API, optionally restricted to
// document types and organizations.
type Request struct {
	Query         string
	DocumentTypes []string
	Organizations []string
}

// Chunk is one retrieval chunk the API reports as used for the answer.
type Chunk struct {
	ChunkID         string `json:"chunk-id"`
	DocTitle        string `json:"doc-title"`
	DocNum          string `json:"doc-num"`
	ContentMarkdown string `json:"content-markdown"`
}

// Response is the RAG API's answer to one query.
type Response struct {
	Answer         string  `json:"answer"`
	ConversationID string  `json:"conversation-id"`
	Model          string  `json:"model"`
	ChunksUsed     []Chunk `json:"chunks-used"`
}

// Client talks to the RAG API over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	userEmail  string
	policy     retry.Policy
	httpClient *http.Client
}

// New creates a Client from the RAG section of the configuration.
func New(cfg config.RAGConfig, policy retry.Policy) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		userEmail: cfg.UserEmail,
		policy:    policy,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// wirePayload mirrors the API's request body.
type wirePayload struct {
	Query string   `json:"query"`
	Type  []string `json:"type"`
	Org   []string `json:"org"`
}

// Query sends one question and returns the answer with the chunks used.
// Transient failures are retried with backoff; 4xx responses fail
// immediately since retrying cannot fix the request.
func (c *Client) Query(ctx context.Context, req Request) (*Response, error) {
	return retry.DoWithResult(ctx, c.policy, func() (*Response, error) {
		return c.query(ctx, req)
	})
}

func (c *Client) query(ctx context.Context, req Request) (*Response, error) {
	payload := wirePayload{
		Query: req.Query,
		Type:  emptyNotNil(req.DocumentTypes),
		Org:   emptyNotNil(req.Organizations),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding query payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/rag", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("X-User-Email", c.userEmail)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("rag api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if out.Answer == "" {
		return nil, fmt.Errorf("rag api returned empty answer")
	}
	return &out, nil
}

func emptyNotNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
