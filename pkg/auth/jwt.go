package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTProvider verifies HS256 bearer tokens. The user ID comes from the
// user_id claim, falling back to sub. Expiry and not-before claims are
// enforced by the parser.
type JWTProvider struct {
	secret []byte
}

// NewJWTProvider creates a provider verifying tokens signed with secret.
func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

// Verify parses and validates token and extracts the caller identity.
func (p *JWTProvider) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims shape: %w", ErrUnauthorized)
	}

	identity := &Identity{Claims: claims}
	if sub, _ := claims["sub"].(string); sub != "" {
		identity.UserID = sub
	}
	if userID, _ := claims["user_id"].(string); userID != "" {
		identity.UserID = userID
	}
	if identity.UserID == "" {
		return nil, fmt.Errorf("token names no user: %w", ErrUnauthorized)
	}

	if raw, ok := claims["roles"].([]any); ok {
		for _, r := range raw {
			if role, ok := r.(string); ok {
				identity.Roles = append(identity.Roles, role)
			}
		}
	}

	return identity, nil
}
