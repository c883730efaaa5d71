package connector

import (
	"time"

	"github.com/vantori/flowgate/internal/store"
)

// BreakerState is the circuit state derived from recorded connector
// health. The breaker keeps no state of its own; it is a pure function
// of the health row, so concurrent workers always agree.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	// DefaultFailureThreshold is the consecutive-failure count that
	// opens the circuit.
	DefaultFailureThreshold = 3
	// DefaultCooldown is how long the circuit stays open after the most
	// recent failure before a probe is allowed through.
	DefaultCooldown = 5 * time.Minute
)

// State derives the breaker state for a connector account. A nil health
// row (account never used) is closed. The circuit stays open while the
// elapsed time since the last error is at most the cooldown; the probe
// is allowed only strictly after it.
func State(h *store.ConnectorHealth, threshold int, cooldown time.Duration, now time.Time) BreakerState {
	if h == nil || h.ConsecutiveFailures < threshold {
		return BreakerClosed
	}
	if h.LastErrorAt != nil && now.Sub(*h.LastErrorAt) <= cooldown {
		return BreakerOpen
	}
	return BreakerHalfOpen
}
