// Package auth resolves bearer tokens to sales rep identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/retail-floor/internal/port"
)

const sessionKeyPrefix = "retail:session:"

var (
	_ port.IdentityVerifier = StaticTokens(nil)
	_ port.IdentityVerifier = (*RedisSessions)(nil)
	_ port.IdentityVerifier = Chain(nil)
)

// StaticTokens maps fixed tokens to identities. Used for development and for
// service accounts declared in configuration.
type StaticTokens map[string]string

func (s StaticTokens) Verify(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", port.ErrUnauthenticated
	}
	identity, ok := s[token]
	if !ok {
		return "", port.ErrUnauthenticated
	}
	return identity, nil
}

// RedisSessions looks tokens up in a session store shared with the login
// service: key retail:session:<token>, value the identity.
type RedisSessions struct {
	client *redis.Client
}

func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client}
}

func (r *RedisSessions) Verify(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", port.ErrUnauthenticated
	}
	identity, err := r.client.Get(ctx, sessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", port.ErrUnauthenticated
	}
	if err != nil {
		return "", fmt.Errorf("session lookup: %w", err)
	}
	if identity == "" {
		return "", port.ErrUnauthenticated
	}
	return identity, nil
}

// Chain asks each verifier in turn and accepts the first identity found.
// Errors other than ErrUnauthenticated stop the chain.
type Chain []port.IdentityVerifier

func (c Chain) Verify(ctx context.Context, token string) (string, error) {
	for _, v := range c {
		identity, err := v.Verify(ctx, token)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, port.ErrUnauthenticated) {
			return "", err
		}
	}
	return "", port.ErrUnauthenticated
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
