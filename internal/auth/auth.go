// Package auth verifies the opaque bearer tokens presented by browsers and
// edge-gateways and resolves them to a user identity.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/signalrelay/internal/config"
	"github.com/dkeye/signalrelay/internal/domain"
)

var (
	ErrMissingToken        = errors.New("missing token")
	ErrInvalidToken        = errors.New("invalid token")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrUnsupportedAuthMode = errors.New("unsupported auth mode")
)

// Verifier is the identity provider seen by the relay: one blocking call
// with a pass/fail outcome.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.User, error)
}

// NewVerifier builds the verifier selected by cfg.Mode, wrapped with the
// verified-email check and the token cache when they are enabled.
func NewVerifier(cfg config.AuthConfig) (Verifier, error) {
	var v Verifier
	switch cfg.Mode {
	case config.AuthModeStatic:
		v = NewStaticVerifier(cfg.StaticTokens)
	case config.AuthModeJWT:
		jv, err := NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
		if err != nil {
			return nil, err
		}
		v = jv
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAuthMode, cfg.Mode)
	}
	if cfg.RequireVerifiedEmail {
		v = verifiedEmail{next: v}
	}
	if cfg.CacheTTL > 0 && cfg.CacheSize > 0 {
		v = NewCachedVerifier(v, cfg.CacheSize, cfg.CacheTTL)
	}
	return v, nil
}

type verifiedEmail struct {
	next Verifier
}

func (v verifiedEmail) Verify(ctx context.Context, token string) (domain.User, error) {
	u, err := v.next.Verify(ctx, token)
	if err != nil {
		return domain.User{}, err
	}
	if !u.EmailVerified {
		return domain.User{}, ErrEmailNotVerified
	}
	return u, nil
}
