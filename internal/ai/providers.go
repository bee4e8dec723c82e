package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

type openAIClient struct {
	client    openai.Client
	model     string
	maxTokens int
}

func newOpenAIClient(ep Endpoint, hc *http.Client, maxTokens int) *openAIClient {
	baseURL := strings.TrimSpace(ep.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &openAIClient{
		client: openai.NewClient(
			openaioption.WithAPIKey(strings.TrimSpace(ep.APIKey)),
			openaioption.WithBaseURL(baseURL),
			openaioption.WithHTTPClient(hc),
			openaioption.WithMaxRetries(0),
		),
		model:     ep.Model,
		maxTokens: maxTokens,
	}
}

func (c *openAIClient) Chat(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxTokens:   openai.Int(int64(c.maxTokens)),
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

type anthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

func newAnthropicClient(ep Endpoint, hc *http.Client, maxTokens int) *anthropicClient {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(strings.TrimSpace(ep.APIKey)),
		anthropicoption.WithHTTPClient(hc),
		anthropicoption.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(ep.BaseURL); baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	return &anthropicClient{client: anthropic.NewClient(opts...), model: ep.Model, maxTokens: maxTokens}
}

func (c *anthropicClient) Chat(ctx context.Context, system, user string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages failed: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

type geminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int
}

func newGeminiClient(ctx context.Context, ep Endpoint, hc *http.Client, maxTokens int) (*geminiClient, error) {
	endpoint := strings.TrimSpace(ep.BaseURL)
	if shouldFallbackToGeminiDefaultBaseURL(endpoint) {
		endpoint = defaultGeminiBaseURL
	}
	baseURL, apiVersion, err := parseGeminiBaseURLAndVersion(endpoint)
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     strings.TrimSpace(ep.APIKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client failed: %w", err)
	}
	return &geminiClient{client: client, model: ep.Model, maxTokens: maxTokens}, nil
}

func (c *geminiClient) Chat(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		Temperature:       genai.Ptr(float32(0.2)),
		MaxOutputTokens:   int32(c.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate content failed: %w", err)
	}
	content := strings.TrimSpace(resp.Text())
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
