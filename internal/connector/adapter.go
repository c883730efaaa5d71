package connector

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/vantori/flowgate/internal/store"
	"github.com/vantori/flowgate/pkg/schema"
)

const maxAttempts = 3

// HealthStore is the slice of the persistence layer the adapter needs
// for connector health bookkeeping.
type HealthStore interface {
	GetConnectorHealth(ctx context.Context, orgID, provider, accountRef string) (*store.ConnectorHealth, error)
	RecordConnectorSuccess(ctx context.Context, orgID, provider, accountRef string) error
	RecordConnectorFailure(ctx context.Context, orgID, provider, accountRef string, failure store.ConnectorFailure) error
	MarkReauthRequired(ctx context.Context, orgID, provider, accountRef string) error
}

// Adapter routes publish requests through registered publishers with
// circuit breaking, classified retry and health bookkeeping. Only
// rate_limit failures are retried; auth failures are never retried, and
// the ones caused by missing scopes flag the account for
// re-authentication.
type Adapter struct {
	store      HealthStore
	publishers map[string]Publisher
	threshold  int
	cooldown   time.Duration
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// NewAdapter creates an Adapter over the given publishers.
func NewAdapter(st HealthStore, publishers []Publisher, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	byProvider := make(map[string]Publisher, len(publishers))
	for _, p := range publishers {
		byProvider[p.Provider()] = p
	}
	return &Adapter{
		store:      st,
		publishers: byProvider,
		threshold:  DefaultFailureThreshold,
		cooldown:   DefaultCooldown,
		logger:     logger,
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

// Execute performs one provider call with retry. The returned error is
// always a FlowError whose details carry the failure category.
func (a *Adapter) Execute(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	pub, ok := a.publishers[req.Provider]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "no publisher registered for provider %q", req.Provider)
	}

	health, err := a.store.GetConnectorHealth(ctx, req.OrgID, req.Provider, req.AccountRef)
	if err != nil {
		if !schema.IsNotFound(err) {
			a.logger.Warn("connector health lookup failed", "provider", req.Provider, "error", err)
		}
		health = nil
	}
	state := State(health, a.threshold, a.cooldown, a.now())
	if state == BreakerOpen {
		return nil, schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open for %s/%s", req.Provider, req.AccountRef).
			WithDetails(map[string]any{
				"provider": req.Provider, "account_ref": req.AccountRef,
				"consecutive_failures": health.ConsecutiveFailures,
			})
	}
	if state == BreakerHalfOpen {
		a.logger.Info("circuit half open, probing", "provider", req.Provider, "account_ref", req.AccountRef)
	}

	var lastErr *ProviderError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := pub.Publish(ctx, req)
		if err == nil {
			if recErr := a.store.RecordConnectorSuccess(ctx, req.OrgID, req.Provider, req.AccountRef); recErr != nil {
				a.logger.Warn("record connector success failed", "provider", req.Provider, "error", recErr)
			}
			return result, nil
		}

		perr := classify(req, err)
		lastErr = perr
		a.recordFailure(ctx, req, perr)

		if perr.Category == CategoryAuth {
			// Only scope failures need the operator to re-connect the
			// account. A transient 401 records failure health and
			// nothing more.
			if len(perr.MissingScopes) > 0 {
				if markErr := a.store.MarkReauthRequired(ctx, req.OrgID, req.Provider, req.AccountRef); markErr != nil {
					a.logger.Warn("mark reauth failed", "provider", req.Provider, "error", markErr)
				}
			}
			return nil, flowError(schema.ErrCodeExecution, perr)
		}
		if perr.Category != CategoryRateLimit {
			return nil, flowError(schema.ErrCodeExecution, perr)
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoff(attempt)
		a.logger.Info("rate limited, backing off",
			"provider", req.Provider, "attempt", attempt, "delay", delay)
		if err := a.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, flowError(schema.ErrCodeRetryExhausted, lastErr)
}

func (a *Adapter) recordFailure(ctx context.Context, req PublishRequest, perr *ProviderError) {
	failure := store.ConnectorFailure{
		Message:          Redact(perr.Message),
		ProviderCode:     perr.ProviderCode,
		RateLimitResetAt: perr.RetryAfter,
	}
	if perr.HTTPStatus != 0 {
		status := perr.HTTPStatus
		failure.HTTPStatus = &status
	}
	if err := a.store.RecordConnectorFailure(ctx, req.OrgID, req.Provider, req.AccountRef, failure); err != nil {
		a.logger.Warn("record connector failure failed", "provider", req.Provider, "error", err)
	}
}

func classify(req PublishRequest, err error) *ProviderError {
	if perr, ok := err.(*ProviderError); ok {
		return perr
	}
	return &ProviderError{
		Provider:   req.Provider,
		AccountRef: req.AccountRef,
		Category:   CategoryUnknown,
		Message:    err.Error(),
	}
}

func flowError(code string, perr *ProviderError) error {
	details := map[string]any{
		"provider": perr.Provider,
		"category": string(perr.Category),
	}
	if perr.HTTPStatus != 0 {
		details["http_status"] = perr.HTTPStatus
	}
	if perr.ProviderCode != "" {
		details["provider_code"] = perr.ProviderCode
	}
	if len(perr.MissingScopes) > 0 {
		details["missing_scopes"] = perr.MissingScopes
		details["reauth_required"] = true
	}
	return schema.NewError(code, Redact(perr.Message)).WithCause(perr).WithDetails(details)
}

// backoff returns the delay before the next attempt: exponential,
// capped at 8s, with up to 200ms of jitter to spread concurrent
// retries.
func backoff(attempt int) time.Duration {
	base := math.Min(8, math.Pow(2, float64(attempt-1)))
	jitter := time.Duration(rand.Int63n(int64(200 * time.Millisecond)))
	return time.Duration(base*float64(time.Second)) + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
