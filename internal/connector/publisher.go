package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// PublishRequest is one outbound call to a provider account.
type PublishRequest struct {
	OrgID      string
	Provider   string
	AccountRef string
	Channel    string
	Payload    map[string]any
}

// PublishResult is the provider's acknowledgment of a successful call.
type PublishResult struct {
	ExternalID string
	Detail     map[string]any
}

// Publisher performs the actual provider API call. Implementations do
// no retrying or health bookkeeping; the adapter owns both.
type Publisher interface {
	Provider() string
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
}

// HTTPPublisher posts publish requests to a provider endpoint with a
// bearer credential. Non-2xx responses are classified into a
// ProviderError by status code.
type HTTPPublisher struct {
	provider string
	baseURL  string
	token    string
	client   *http.Client
}

// NewHTTPPublisher creates an HTTPPublisher for one provider.
func NewHTTPPublisher(provider, baseURL, token string) *HTTPPublisher {
	return &HTTPPublisher{
		provider: provider,
		baseURL:  baseURL,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPPublisher) Provider() string { return p.provider }

func (p *HTTPPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, &ProviderError{
			Provider: p.provider, AccountRef: req.AccountRef,
			Category: CategoryValidation, Message: fmt.Sprintf("marshal payload: %v", err),
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/publish", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{
			Provider: p.provider, AccountRef: req.AccountRef,
			Category: CategoryValidation, Message: err.Error(),
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{
			Provider: p.provider, AccountRef: req.AccountRef,
			Category: CategoryNetwork, Message: err.Error(),
		}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, providerErrorFromResponse(p.provider, req.AccountRef, resp, respBody)
	}

	result := &PublishResult{Detail: map[string]any{}}
	var parsed struct {
		ID     string         `json:"id"`
		Detail map[string]any `json:"detail"`
	}
	if err := json.Unmarshal(respBody, &parsed); err == nil {
		result.ExternalID = parsed.ID
		if parsed.Detail != nil {
			result.Detail = parsed.Detail
		}
	}
	return result, nil
}

func providerErrorFromResponse(provider, accountRef string, resp *http.Response, body []byte) *ProviderError {
	perr := &ProviderError{
		Provider:   provider,
		AccountRef: accountRef,
		Category:   MapProviderStatus(resp.StatusCode),
		HTTPStatus: resp.StatusCode,
		Message:    string(body),
	}
	var parsed struct {
		Code    string   `json:"code"`
		Message string   `json:"message"`
		Scopes  []string `json:"missing_scopes"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Code != "" {
			perr.ProviderCode = parsed.Code
		}
		if parsed.Message != "" {
			perr.Message = parsed.Message
		}
		perr.MissingScopes = parsed.Scopes
	}
	if perr.Category == CategoryRateLimit {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			t := time.Now().Add(time.Duration(secs) * time.Second)
			perr.RetryAfter = &t
		}
	}
	return perr
}

// MockPublisher returns scripted results, in order, then repeats the
// last one. Used in dev mode and tests; safe for concurrent use since
// the adapter may call it from multiple workers.
type MockPublisher struct {
	provider string
	results  []MockResult

	mu    sync.Mutex
	calls int
}

// MockResult is one scripted outcome for a MockPublisher.
type MockResult struct {
	Result *PublishResult
	Err    error
}

// NewMockPublisher creates a MockPublisher for a provider.
func NewMockPublisher(provider string, results ...MockResult) *MockPublisher {
	if len(results) == 0 {
		results = []MockResult{{Result: &PublishResult{ExternalID: "mock-1"}}}
	}
	return &MockPublisher{provider: provider, results: results}
}

func (m *MockPublisher) Provider() string { return m.provider }

// Calls reports how many times Publish has been invoked.
func (m *MockPublisher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockPublisher) Publish(_ context.Context, _ PublishRequest) (*PublishResult, error) {
	m.mu.Lock()
	idx := m.calls
	if idx >= len(m.results) {
		idx = len(m.results) - 1
	}
	m.calls++
	m.mu.Unlock()

	r := m.results[idx]
	return r.Result, r.Err
}
