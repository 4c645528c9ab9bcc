package auth

import (
	"context"

	"github.com/dkeye/signalrelay/internal/config"
	"github.com/dkeye/signalrelay/internal/domain"
)

// StaticVerifier accepts a fixed token table from config. Meant for dev
// setups and tests where no identity provider is reachable.
type StaticVerifier struct {
	tokens map[string]domain.User
}

func NewStaticVerifier(tokens []config.StaticIdentity) *StaticVerifier {
	m := make(map[string]domain.User, len(tokens))
	for _, id := range tokens {
		m[id.Token] = domain.User{
			ID:            domain.UserID(id.UserID),
			Email:         id.Email,
			EmailVerified: id.EmailVerified,
		}
	}
	return &StaticVerifier{tokens: m}
}

func (v *StaticVerifier) Verify(ctx context.Context, token string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	if token == "" {
		return domain.User{}, ErrMissingToken
	}
	u, ok := v.tokens[token]
	if !ok || u.ID == "" {
		return domain.User{}, ErrInvalidToken
	}
	return u, nil
}
