package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a quota check.
type Result struct {
	// Allowed reports whether the send was admitted. When true the counter
	// has already been incremented.
	Allowed bool
	// Remaining is the quota left in the current window after this call.
	Remaining int
	// RetryAfter is how long until the window resets. Only meaningful when
	// the send was denied.
	RetryAfter time.Duration
}

// Store is a fixed-window counter shared by all delivery workers. Keys are
// sending-credential IDs; the check and the increment are atomic so
// concurrent workers cannot overshoot a credential's quota.
//
// A fixed window resets fully at the boundary, so a quota of N can admit up
// to 2N sends straddling the reset. That burst is bounded and accepted; the
// window start is what the counter saw, not what any caller computed.
type Store interface {
	// TryAcquire admits one send against the key's quota. limit is the
	// maximum number of sends per window.
	TryAcquire(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)

	// Close releases backend resources.
	Close() error
}
