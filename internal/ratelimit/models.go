package ratelimit

import "time"

// Algorithm names accepted in configuration.
const (
	AlgorithmFixedWindow   = "fixed_window"
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmTokenBucket   = "token_bucket"
)

// The fixed-window counter is stored as a bare integer with a TTL rather
// than a struct: the store's atomic increment gives {count, resetTime,
// blocked} for free (blocked == count over limit, resetTime == key expiry)
// without a read-modify-write race on the hot path.

// windowState holds the sliding-window request log. Timestamps older than
// the window are trimmed before every count.
type windowState struct {
	Timestamps []time.Time `json:"timestamps"`
}

// bucketState is the token bucket: tokens refill proportionally to the time
// elapsed since LastRefill, capped at the bucket size.
type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

// Limit is the resolved policy for one (source, identifier) pair after
// applying precedence: identifier override > source override > default.
type Limit struct {
	Requests int
	Window   time.Duration
}
