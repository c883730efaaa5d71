package connector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantori/flowgate/internal/store"
	"github.com/vantori/flowgate/pkg/schema"
)

type fakeHealthStore struct {
	health map[string]*store.ConnectorHealth
}

func newFakeHealthStore() *fakeHealthStore {
	return &fakeHealthStore{health: map[string]*store.ConnectorHealth{}}
}

func healthKey(orgID, provider, accountRef string) string {
	return fmt.Sprintf("%s/%s/%s", orgID, provider, accountRef)
}

func (f *fakeHealthStore) GetConnectorHealth(_ context.Context, orgID, provider, accountRef string) (*store.ConnectorHealth, error) {
	h, ok := f.health[healthKey(orgID, provider, accountRef)]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeNotFound, "connector health not found")
	}
	copied := *h
	return &copied, nil
}

func (f *fakeHealthStore) RecordConnectorSuccess(_ context.Context, orgID, provider, accountRef string) error {
	now := time.Now()
	f.health[healthKey(orgID, provider, accountRef)] = &store.ConnectorHealth{
		OrgID: orgID, Provider: provider, AccountRef: accountRef,
		LastOKAt: &now, UpdatedAt: now,
	}
	return nil
}

func (f *fakeHealthStore) RecordConnectorFailure(_ context.Context, orgID, provider, accountRef string, failure store.ConnectorFailure) error {
	key := healthKey(orgID, provider, accountRef)
	h, ok := f.health[key]
	if !ok {
		h = &store.ConnectorHealth{OrgID: orgID, Provider: provider, AccountRef: accountRef}
		f.health[key] = h
	}
	now := time.Now()
	h.ConsecutiveFailures++
	h.LastErrorAt = &now
	h.LastErrorMsg = failure.Message
	h.LastHTTPStatus = failure.HTTPStatus
	h.LastProviderErrorCode = failure.ProviderCode
	h.LastRateLimitResetAt = failure.RateLimitResetAt
	h.UpdatedAt = now
	return nil
}

func (f *fakeHealthStore) MarkReauthRequired(_ context.Context, orgID, provider, accountRef string) error {
	key := healthKey(orgID, provider, accountRef)
	h, ok := f.health[key]
	if !ok {
		h = &store.ConnectorHealth{OrgID: orgID, Provider: provider, AccountRef: accountRef}
		f.health[key] = h
	}
	h.ReauthRequired = true
	return nil
}

func newTestAdapter(st HealthStore, pub Publisher) (*Adapter, *[]time.Duration) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewAdapter(st, []Publisher{pub}, logger)
	slept := &[]time.Duration{}
	a.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return a, slept
}

func publishReq() PublishRequest {
	return PublishRequest{
		OrgID:      "org-1",
		Provider:   "gbp",
		AccountRef: "loc-42",
		Payload:    map[string]any{"text": "hello"},
	}
}

func TestAdapterSuccessRecordsHealth(t *testing.T) {
	st := newFakeHealthStore()
	pub := NewMockPublisher("gbp", MockResult{Result: &PublishResult{ExternalID: "post-1"}})
	a, _ := newTestAdapter(st, pub)

	result, err := a.Execute(context.Background(), publishReq())
	require.NoError(t, err)
	assert.Equal(t, "post-1", result.ExternalID)
	assert.Equal(t, 1, pub.Calls())

	h, err := st.GetConnectorHealth(context.Background(), "org-1", "gbp", "loc-42")
	require.NoError(t, err)
	assert.NotNil(t, h.LastOKAt)
	assert.Equal(t, 0, h.ConsecutiveFailures)
}

func TestAdapterUnknownProvider(t *testing.T) {
	a, _ := newTestAdapter(newFakeHealthStore(), NewMockPublisher("gbp"))

	req := publishReq()
	req.Provider = "fax"
	_, err := a.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestAdapterMissingScopesMarksReauthAndDoesNotRetry(t *testing.T) {
	st := newFakeHealthStore()
	pub := NewMockPublisher("gbp", MockResult{Err: &ProviderError{
		Provider: "gbp", AccountRef: "loc-42",
		Category: CategoryAuth, HTTPStatus: 403, Message: "invalid token",
		MissingScopes: []string{"business.manage"},
	}})
	a, slept := newTestAdapter(st, pub)

	_, err := a.Execute(context.Background(), publishReq())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
	assert.Equal(t, 1, pub.Calls())
	assert.Empty(t, *slept)

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "auth", fe.Details["category"])
	assert.Equal(t, true, fe.Details["reauth_required"])
	assert.Equal(t, redactedMessage, fe.Message)

	h, err := st.GetConnectorHealth(context.Background(), "org-1", "gbp", "loc-42")
	require.NoError(t, err)
	assert.True(t, h.ReauthRequired)
	assert.Equal(t, redactedMessage, h.LastErrorMsg)
}

func TestAdapterTransientAuthFailureDoesNotMarkReauth(t *testing.T) {
	st := newFakeHealthStore()
	pub := NewMockPublisher("gbp", MockResult{Err: &ProviderError{
		Provider: "gbp", AccountRef: "loc-42",
		Category: CategoryAuth, HTTPStatus: 401, Message: "session expired",
	}})
	a, slept := newTestAdapter(st, pub)

	_, err := a.Execute(context.Background(), publishReq())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
	assert.Equal(t, 1, pub.Calls())
	assert.Empty(t, *slept)

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "auth", fe.Details["category"])
	assert.NotContains(t, fe.Details, "reauth_required")

	// Failure health is still recorded, but the account keeps its
	// connection.
	h, err := st.GetConnectorHealth(context.Background(), "org-1", "gbp", "loc-42")
	require.NoError(t, err)
	assert.False(t, h.ReauthRequired)
	assert.Equal(t, 1, h.ConsecutiveFailures)
}

func TestAdapterRetriesRateLimitThenSucceeds(t *testing.T) {
	st := newFakeHealthStore()
	pub := NewMockPublisher("gbp",
		MockResult{Err: &ProviderError{Provider: "gbp", Category: CategoryRateLimit, HTTPStatus: 429, Message: "quota"}},
		MockResult{Result: &PublishResult{ExternalID: "post-2"}},
	)
	a, slept := newTestAdapter(st, pub)

	result, err := a.Execute(context.Background(), publishReq())
	require.NoError(t, err)
	assert.Equal(t, "post-2", result.ExternalID)
	assert.Equal(t, 2, pub.Calls())
	require.Len(t, *slept, 1)

	// First backoff is 1s base plus up to 200ms jitter.
	assert.GreaterOrEqual(t, (*slept)[0], time.Second)
	assert.Less(t, (*slept)[0], time.Second+250*time.Millisecond)

	// Success resets the failure streak.
	h, err := st.GetConnectorHealth(context.Background(), "org-1", "gbp", "loc-42")
	require.NoError(t, err)
	assert.Equal(t, 0, h.ConsecutiveFailures)
}

func TestAdapterRateLimitExhaustsRetries(t *testing.T) {
	st := newFakeHealthStore()
	pub := NewMockPublisher("gbp", MockResult{Err: &ProviderError{
		Provider: "gbp", Category: CategoryRateLimit, HTTPStatus: 429, Message: "quota",
	}})
	a, slept := newTestAdapter(st, pub)

	_, err := a.Execute(context.Background(), publishReq())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeRetryExhausted, schema.CodeOf(err))
	assert.Equal(t, maxAttempts, pub.Calls())
	assert.Len(t, *slept, maxAttempts-1)

	h, err := st.GetConnectorHealth(context.Background(), "org-1", "gbp", "loc-42")
	require.NoError(t, err)
	assert.Equal(t, maxAttempts, h.ConsecutiveFailures)
}

func TestAdapterValidationFailureNotRetried(t *testing.T) {
	pub := NewMockPublisher("gbp", MockResult{Err: &ProviderError{
		Provider: "gbp", Category: CategoryValidation, HTTPStatus: 422, Message: "bad media",
	}})
	a, slept := newTestAdapter(newFakeHealthStore(), pub)

	_, err := a.Execute(context.Background(), publishReq())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
	assert.Equal(t, 1, pub.Calls())
	assert.Empty(t, *slept)
}

func TestAdapterCircuitOpenShortCircuits(t *testing.T) {
	st := newFakeHealthStore()
	now := time.Now()
	st.health[healthKey("org-1", "gbp", "loc-42")] = &store.ConnectorHealth{
		OrgID: "org-1", Provider: "gbp", AccountRef: "loc-42",
		ConsecutiveFailures: DefaultFailureThreshold, LastErrorAt: &now,
	}
	pub := NewMockPublisher("gbp")
	a, _ := newTestAdapter(st, pub)

	_, err := a.Execute(context.Background(), publishReq())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCircuitOpen, schema.CodeOf(err))
	assert.Equal(t, 0, pub.Calls())
}

func TestAdapterHalfOpenAllowsProbe(t *testing.T) {
	st := newFakeHealthStore()
	stale := time.Now().Add(-10 * time.Minute)
	st.health[healthKey("org-1", "gbp", "loc-42")] = &store.ConnectorHealth{
		OrgID: "org-1", Provider: "gbp", AccountRef: "loc-42",
		ConsecutiveFailures: DefaultFailureThreshold, LastErrorAt: &stale,
	}
	pub := NewMockPublisher("gbp", MockResult{Result: &PublishResult{ExternalID: "probe-1"}})
	a, _ := newTestAdapter(st, pub)

	result, err := a.Execute(context.Background(), publishReq())
	require.NoError(t, err)
	assert.Equal(t, "probe-1", result.ExternalID)
	assert.Equal(t, 1, pub.Calls())
}

func TestBackoffCapsAtEightSeconds(t *testing.T) {
	for attempt := 1; attempt <= 6; attempt++ {
		d := backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Second, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 8*time.Second+200*time.Millisecond, "attempt %d", attempt)
	}
	assert.GreaterOrEqual(t, backoff(5), 8*time.Second)
}
