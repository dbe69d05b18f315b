package port

import (
	"context"
	"errors"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// IdentityVerifier turns a bearer token into a caller identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}
