// Package scripture fetches chapter text for daily content.
package scripture

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"PleaPipeline/internal/config"
	"PleaPipeline/internal/infrastructure/httpx"
	"PleaPipeline/internal/ports"
)

// ESVClient reads passages from an ESV-compatible text API.
type ESVClient struct {
	endpoint string
	apiKey   string
	http     *httpx.Client
}

var _ ports.ScriptureSource = (*ESVClient)(nil)

// NewESVClient builds the API chapter source. A generation gets one call, so
// failures are not retried.
func NewESVClient(cfg config.ScriptureConfig, client *http.Client) *ESVClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ESVClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     httpx.New(httpx.Options{HTTPClient: client, MaxRetries: 0, UserAgent: "PleaPipeline/1.0"}),
	}
}

// Chapter returns the passage text for query with verse numbers and without
// headings or footnotes. The API echoes the query as the first line.
func (c *ESVClient) Chapter(ctx context.Context, query string) (string, error) {
	if c.endpoint == "" || c.apiKey == "" {
		return "", fmt.Errorf("scripture client misconfigured")
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid scripture endpoint %s: %w", c.endpoint, err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("include-headings", "false")
	q.Set("include-footnotes", "false")
	q.Set("include-verse-numbers", "true")
	q.Set("include-short-copyright", "false")
	q.Set("include-passage-references", "true")
	u.RawQuery = q.Encode()

	var resp struct {
		Canonical string   `json:"canonical"`
		Passages  []string `json:"passages"`
	}
	err = c.http.DoJSON(ctx, httpx.Request{
		Method: http.MethodGet,
		URL:    u.String(),
		Header: http.Header{"Authorization": []string{"Token " + c.apiKey}},
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("fetch passage %s: %w", query, err)
	}

	text := strings.TrimSpace(strings.Join(resp.Passages, "\n\n"))
	if text == "" {
		return "", fmt.Errorf("passage %s: empty response", query)
	}
	return text, nil
}
