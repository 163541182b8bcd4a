// Package ratelimit provides fixed-window request limiters keyed by caller.
package ratelimit

import "context"

// Limiter decides whether one more request for key fits in the current
// window. An error means the decision could not be made.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
