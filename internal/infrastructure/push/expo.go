// Package push delivers notifications through the Expo push service.
package push

import (
	"context"
	"fmt"
	"net/http"

	"PleaPipeline/internal/config"
	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/infrastructure/httpx"
	"PleaPipeline/internal/ports"
)

// MaxBatch is the largest message array the service accepts per call.
const MaxBatch = 100

// ExpoClient sends message batches to the Expo push API.
type ExpoClient struct {
	endpoint    string
	accessToken string
	http        *httpx.Client
}

var _ ports.PushSender = (*ExpoClient)(nil)

// NewExpoClient builds a sender. Deliveries are never retried.
func NewExpoClient(cfg config.PushConfig, client *http.Client) *ExpoClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ExpoClient{
		endpoint:    cfg.Endpoint,
		accessToken: cfg.AccessToken,
		http:        httpx.New(httpx.Options{HTTPClient: client, MaxRetries: 0, RequestsPerSecond: 6, UserAgent: "PleaPipeline/1.0"}),
	}
}

type ticket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type sendResponse struct {
	Data   []ticket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Send submits up to MaxBatch messages in one call and returns one ticket per message.
func (c *ExpoClient) Send(ctx context.Context, messages []domain.PushMessage) ([]domain.PushTicket, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	if len(messages) > MaxBatch {
		return nil, fmt.Errorf("batch of %d exceeds push limit %d", len(messages), MaxBatch)
	}
	if c.endpoint == "" {
		return nil, fmt.Errorf("push client misconfigured")
	}

	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}

	var resp sendResponse
	err := c.http.DoJSON(ctx, httpx.Request{
		Method:  http.MethodPost,
		URL:     c.endpoint,
		Header:  header,
		Payload: messages,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("push send: %w", err)
	}

	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("push send rejected: %s: %s", resp.Errors[0].Code, resp.Errors[0].Message)
	}

	tickets := make([]domain.PushTicket, 0, len(resp.Data))
	for _, t := range resp.Data {
		tickets = append(tickets, domain.PushTicket{
			Status:    t.Status,
			ID:        t.ID,
			Message:   t.Message,
			ErrorCode: t.Details.Error,
		})
	}
	return tickets, nil
}
