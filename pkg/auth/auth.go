package auth

import (
	"context"
	"errors"
)

var (
	// ErrUnauthorized means the caller presented no usable identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the identity is known but not allowed the
	// operation.
	ErrForbidden = errors.New("forbidden")
)

// Identity is the resolved caller of a request.
type Identity struct {
	UserID string
	Roles  []string
	Claims map[string]any
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Provider resolves a bearer token to a caller identity. Implementations
// return ErrUnauthorized (possibly wrapped) for any token they cannot
// accept.
type Provider interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// PermissionChecker authorizes a resolved identity against a tool before a
// handler does any work. Wrapped ErrForbidden marks denial; other errors are
// checker failures.
type PermissionChecker interface {
	CanRead(ctx context.Context, identity *Identity, toolID string) error
	CanWrite(ctx context.Context, identity *Identity, toolID string) error
}

// DefaultUserID is the identity NopProvider hands out when none is named.
const DefaultUserID = "local-user"

// NopProvider accepts every request as a fixed local user. It is the
// development default; real deployments run the JWT provider.
type NopProvider struct {
	// User overrides the default local user ID when set.
	User string
}

// Verify ignores the token and returns the local user.
func (p NopProvider) Verify(ctx context.Context, token string) (*Identity, error) {
	user := p.User
	if user == "" {
		user = DefaultUserID
	}
	return &Identity{UserID: user, Roles: []string{"admin"}}, nil
}

// AllowAll is a PermissionChecker that permits everything. It is the default
// until a deployment wires a real permission service.
type AllowAll struct{}

func (AllowAll) CanRead(ctx context.Context, identity *Identity, toolID string) error {
	return nil
}

func (AllowAll) CanWrite(ctx context.Context, identity *Identity, toolID string) error {
	return nil
}
