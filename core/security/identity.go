package security

import (
	"context"
	"net/http"
)

// UserIDKey is the identity entry holding the user id.
const UserIDKey = "repoze.who.userid"

// Identity is the credential set produced by identification middleware.
type Identity map[string]any

// Identifier is an identification plugin able to set and clear credentials.
type Identifier interface {
	Remember(r *http.Request, identity Identity) http.Header
	Forget(r *http.Request, identity Identity) http.Header
}

type identityKey struct{}
type identifiersKey struct{}

// WithIdentity attaches the identity found by identification middleware.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// WithIdentifiers attaches the available identifier plugins by name.
func WithIdentifiers(ctx context.Context, identifiers map[string]Identifier) context.Context {
	return context.WithValue(ctx, identifiersKey{}, identifiers)
}

// IdentityPolicy authenticates from an identity placed in the request
// context by upstream identification middleware.
type IdentityPolicy struct {
	callbackPolicy
	IdentifierName string
}

// NewIdentityPolicy creates an identity policy. An empty identifier name
// defaults to auth_tkt.
func NewIdentityPolicy(identifierName string, callback Callback) *IdentityPolicy {
	if identifierName == "" {
		identifierName = "auth_tkt"
	}
	return &IdentityPolicy{callbackPolicy: callbackPolicy{callback: callback}, IdentifierName: identifierName}
}

func (p *IdentityPolicy) identity(r *http.Request) Identity {
	id, _ := r.Context().Value(identityKey{}).(Identity)
	return id
}

func (p *IdentityPolicy) identifier(r *http.Request) Identifier {
	ids, _ := r.Context().Value(identifiersKey{}).(map[string]Identifier)
	return ids[p.IdentifierName]
}

func (p *IdentityPolicy) UnauthenticatedUserID(r *http.Request) (string, bool) {
	id := p.identity(r)
	if id == nil {
		return "", false
	}
	userid, ok := id[UserIDKey].(string)
	return userid, ok && userid != ""
}

func (p *IdentityPolicy) AuthenticatedUserID(r *http.Request) (string, bool) {
	userid, ok := p.UnauthenticatedUserID(r)
	return p.authenticated(r, userid, ok)
}

func (p *IdentityPolicy) EffectivePrincipals(r *http.Request) []string {
	userid, ok := p.UnauthenticatedUserID(r)
	return p.principals(r, userid, ok)
}

// Remember delegates to the configured identifier plugin, if present.
func (p *IdentityPolicy) Remember(r *http.Request, userid string) http.Header {
	plugin := p.identifier(r)
	if plugin == nil {
		return nil
	}
	return plugin.Remember(r, Identity{UserIDKey: userid})
}

// Forget delegates to the configured identifier plugin, if present.
func (p *IdentityPolicy) Forget(r *http.Request) http.Header {
	plugin := p.identifier(r)
	if plugin == nil {
		return nil
	}
	id := p.identity(r)
	if id == nil {
		id = Identity{}
	}
	return plugin.Forget(r, id)
}
