// Package llm wraps the model-facing side calls the core needs:
// embeddings for semantic note retrieval and summarization for
// compacting evicted context. Both are optional; callers must degrade
// gracefully when no client is configured.
package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/caliber-ai/caliber/internal/config"
)

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer compresses text to roughly maxTokens.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxTokens int) (string, error)
}

// Client implements Embedder and Summarizer over the OpenAI API.
type Client struct {
	api            *openai.Client
	embeddingModel string
	chatModel      string
}

const defaultChatModel = openai.GPT4oMini

// NewClient builds a client from config, or returns nil when no API
// key is set. A nil *Client is a valid "not configured" value.
func NewClient(cfg *config.Config) *Client {
	if cfg.OpenAIAPIKey == "" {
		return nil
	}
	apiCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		apiCfg.BaseURL = cfg.OpenAIBaseURL
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &Client{
		api:            openai.NewClientWithConfig(apiCfg),
		embeddingModel: model,
		chatModel:      defaultChatModel,
	}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response had no data")
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.chatModel,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "Summarize the following agent working context. " +
					"Preserve decisions, open questions, and concrete identifiers. " +
					"Reply with the summary only.",
			},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create summary: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summary response had no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
