// Package llm wraps an OpenAI-compatible chat and embedding API behind the
// narrow capabilities the pipeline needs, with an optional SQLite response
// cache in front of it.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/digdir/kunnskapsassistenten/internal/config"
)

// embedBatchSize is how many texts go into a single embedding request.
const embedBatchSize = 32

// embedConcurrency bounds parallel embedding requests.
const embedConcurrency = 4

// Client talks to an OpenAI-compatible endpoint (Ollama's /v1 API in the
// default configuration). A nil cache disables caching.
type Client struct {
	api        *openai.Client
	chatModel  string
	embedModel string
	cache      *Cache
}

// NewClient creates a Client from the LLM section of the configuration.
func NewClient(cfg config.LLMConfig, cache *Cache) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
		cache:      cache,
	}
}

// chatRequest is the cache-key payload for chat completions.
type chatRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	User   string `json:"user"`
}

// Chat sends a system and user prompt and returns the raw response text.
// Responses are requested in JSON mode; callers parse the structure they
// asked for in the prompt.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	key := cacheKey("chat", chatRequest{Model: c.chatModel, System: system, User: user})
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}

	content := resp.Choices[0].Message.Content
	c.cache.Put(key, content)
	return content, nil
}

// embedRequest is the cache-key payload for a single embedded text.
type embedRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one embedding vector per input text, in input order.
// Texts already in the cache are not re-sent; the rest go out in batches of
// embedBatchSize with bounded concurrency.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	var pending []int
	for i, text := range texts {
		key := cacheKey("embed", embedRequest{Model: c.embedModel, Text: text})
		if cached, ok := c.cache.Get(key); ok {
			vec, err := decodeVector(cached)
			if err == nil {
				vectors[i] = vec
				continue
			}
			slog.Warn("discarding corrupt cached embedding", "error", err)
		}
		pending = append(pending, i)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(pending); start += embedBatchSize {
		end := min(start+embedBatchSize, len(pending))
		batch := pending[start:end]

		g.Go(func() error {
			input := make([]string, len(batch))
			for j, idx := range batch {
				input[j] = texts[idx]
			}

			resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Model: openai.EmbeddingModel(c.embedModel),
				Input: input,
			})
			if err != nil {
				return fmt.Errorf("embedding request: %w", err)
			}
			if len(resp.Data) != len(batch) {
				return fmt.Errorf("embedding request: got %d vectors for %d inputs", len(resp.Data), len(batch))
			}

			for j, idx := range batch {
				vec := resp.Data[j].Embedding
				vectors[idx] = vec
				key := cacheKey("embed", embedRequest{Model: c.embedModel, Text: texts[idx]})
				c.cache.Put(key, encodeVector(vec))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
