package port

import "context"

type IdempotencyStore interface {
	// SetIdempotency records key, returning false if it was already recorded.
	SetIdempotency(ctx context.Context, key string) (bool, error)
	// ReleaseIdempotency forgets key so a failed request can be retried.
	ReleaseIdempotency(ctx context.Context, key string) error
}
