package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookPublisher delivers payloads to caller-supplied URLs. The
// target URL travels in the request payload under "url"; everything
// under "body" is posted as JSON.
type WebhookPublisher struct {
	client *http.Client
}

// NewWebhookPublisher creates a WebhookPublisher.
func NewWebhookPublisher() *WebhookPublisher {
	return &WebhookPublisher{client: &http.Client{Timeout: 15 * time.Second}}
}

func (p *WebhookPublisher) Provider() string { return "webhook" }

func (p *WebhookPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	url, _ := req.Payload["url"].(string)
	if url == "" {
		return nil, &ProviderError{
			Provider: "webhook", AccountRef: req.AccountRef,
			Category: CategoryValidation, Message: "webhook url is required",
		}
	}

	body, err := json.Marshal(req.Payload["body"])
	if err != nil {
		return nil, &ProviderError{
			Provider: "webhook", AccountRef: req.AccountRef,
			Category: CategoryValidation, Message: fmt.Sprintf("marshal webhook body: %v", err),
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{
			Provider: "webhook", AccountRef: req.AccountRef,
			Category: CategoryValidation, Message: err.Error(),
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{
			Provider: "webhook", AccountRef: req.AccountRef,
			Category: CategoryNetwork, Message: err.Error(),
		}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, providerErrorFromResponse("webhook", req.AccountRef, resp, respBody)
	}
	return &PublishResult{Detail: map[string]any{"status": resp.StatusCode}}, nil
}
