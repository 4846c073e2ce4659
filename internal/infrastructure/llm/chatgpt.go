package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"PleaPipeline/internal/config"
	"PleaPipeline/internal/infrastructure/httpx"
	"PleaPipeline/internal/ports"
)

// ChatGPTClient implements ports.ChatClient backed by OpenAI-compatible APIs.
type ChatGPTClient struct {
	endpoint string
	model    string
	apiKey   string
	http     *httpx.Client
}

var _ ports.ChatClient = (*ChatGPTClient)(nil)

// NewChatGPTClient builds a client for model from configuration.
func NewChatGPTClient(cfg config.OpenAIConfig, model string, client *http.Client) *ChatGPTClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ChatGPTClient{
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + "/chat/completions",
		model:    model,
		apiKey:   cfg.APIKey,
		http: httpx.New(httpx.Options{
			HTTPClient:        client,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
			UserAgent:         "PleaPipeline/1.0",
		}),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float64       `json:"temperature,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message and returns the reply text.
func (c *ChatGPTClient) Complete(ctx context.Context, prompt string) (string, error) {
	zero := 0.0
	return c.send(ctx, chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: &zero,
	})
}

// CompleteJSON asks for a JSON object response.
func (c *ChatGPTClient) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	temperature := 0.9
	return c.send(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You reply with a single JSON object and nothing else."},
			{Role: "user", Content: prompt},
		},
		Temperature:    &temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
}

func (c *ChatGPTClient) send(ctx context.Context, payload chatRequest) (string, error) {
	if c == nil {
		return "", fmt.Errorf("chatgpt client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", fmt.Errorf("chatgpt client misconfigured")
	}

	var resp chatResponse
	err := c.http.DoJSON(ctx, httpx.Request{
		Method:  http.MethodPost,
		URL:     c.endpoint,
		Header:  http.Header{"Authorization": []string{"Bearer " + c.apiKey}},
		Payload: payload,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
