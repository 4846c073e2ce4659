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

// ModerationClient calls the OpenAI moderation endpoint.
type ModerationClient struct {
	endpoint string
	model    string
	apiKey   string
	http     *httpx.Client
}

var _ ports.ModerationClassifier = (*ModerationClient)(nil)

// NewModerationClient builds the first-stage classifier.
func NewModerationClient(cfg config.OpenAIConfig, client *http.Client) *ModerationClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ModerationClient{
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + "/moderations",
		model:    cfg.ModerationModel,
		apiKey:   cfg.APIKey,
		http: httpx.New(httpx.Options{
			HTTPClient:        client,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
			UserAgent:         "PleaPipeline/1.0",
		}),
	}
}

// Flagged reports whether any moderation result flags text.
func (c *ModerationClient) Flagged(ctx context.Context, text string) (bool, error) {
	if c.apiKey == "" {
		return false, fmt.Errorf("moderation client misconfigured")
	}

	payload := map[string]any{"input": text}
	if c.model != "" {
		payload["model"] = c.model
	}

	var resp struct {
		Results []struct {
			Flagged bool `json:"flagged"`
		} `json:"results"`
	}

	err := c.http.DoJSON(ctx, httpx.Request{
		Method:  http.MethodPost,
		URL:     c.endpoint,
		Header:  http.Header{"Authorization": []string{"Bearer " + c.apiKey}},
		Payload: payload,
	}, &resp)
	if err != nil {
		return false, fmt.Errorf("moderation: %w", err)
	}

	if len(resp.Results) == 0 {
		return false, fmt.Errorf("moderation returned no results")
	}

	for _, r := range resp.Results {
		if r.Flagged {
			return true, nil
		}
	}
	return false, nil
}
