package auth

import (
	"context"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

// TokenVerifier resolves a client credential to a user id.
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// StaticVerifier maps bearer tokens to user ids from configuration.
// Entries are comma-separated "token:userID" pairs.
type StaticVerifier struct {
	tokens map[string]string
}

func NewStaticVerifier(spec string) *StaticVerifier {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, userID, ok := strings.Cut(pair, ":")
		if !ok || token == "" || userID == "" {
			continue
		}
		tokens[token] = userID
	}
	return &StaticVerifier{tokens: tokens}
}

func (v *StaticVerifier) Verify(_ context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return "", ErrUnauthorized
	}
	userID, ok := v.tokens[credential]
	if !ok {
		return "", ErrUnauthorized
	}
	return userID, nil
}

// PassthroughVerifier treats the credential itself as the user id.
// Dev-only, enabled when no token table is configured.
type PassthroughVerifier struct{}

func (PassthroughVerifier) Verify(_ context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return "", ErrUnauthorized
	}
	return credential, nil
}

// NewVerifier picks a static table when configured, passthrough otherwise.
func NewVerifier(spec string) TokenVerifier {
	if strings.TrimSpace(spec) == "" {
		return PassthroughVerifier{}
	}
	return NewStaticVerifier(spec)
}
