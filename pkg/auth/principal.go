// Package auth carries the caller's identity through request contexts and
// resolves actors to roles. Authenticating callers is left to the fronting
// gateway; this package trusts the actor id it is given.
package auth

import (
	"context"
	"errors"
)

// Principal is the entity on whose behalf a command runs.
type Principal interface {
	GetID() string
	GetRole() string
}

// Actor is the default Principal.
type Actor struct {
	ID   string
	Role string
}

func (a *Actor) GetID() string   { return a.ID }
func (a *Actor) GetRole() string { return a.Role }

type contextKey string

const principalKey contextKey = "principal"

var ErrNoPrincipal = errors.New("no principal in context")

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return nil, ErrNoPrincipal
	}
	return p, nil
}

// ActorID returns the principal's id, or "system" when there is none.
func ActorID(ctx context.Context) string {
	if p, err := GetPrincipal(ctx); err == nil {
		return p.GetID()
	}
	return "system"
}
