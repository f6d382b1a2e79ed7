package security

import (
	"context"
	"net/http"
	"strings"
)

type environKey struct{}

// WithEnviron attaches server-provided variables (such as REMOTE_USER set by
// an authenticating front end) to the request context.
func WithEnviron(ctx context.Context, environ map[string]string) context.Context {
	return context.WithValue(ctx, environKey{}, environ)
}

// Environ returns the variables attached with WithEnviron.
func Environ(r *http.Request) map[string]string {
	env, _ := r.Context().Value(environKey{}).(map[string]string)
	return env
}

// RemoteUserPolicy trusts the user id supplied by the server in front of the
// application.
type RemoteUserPolicy struct {
	callbackPolicy
	EnvironKey string
}

// NewRemoteUserPolicy creates a remote-user policy. An empty key defaults
// to REMOTE_USER.
func NewRemoteUserPolicy(environKey string, callback Callback) *RemoteUserPolicy {
	if environKey == "" {
		environKey = "REMOTE_USER"
	}
	return &RemoteUserPolicy{callbackPolicy: callbackPolicy{callback: callback}, EnvironKey: environKey}
}

// HeaderName returns the request header carrying the environ key, e.g.
// Remote-User for REMOTE_USER.
func (p *RemoteUserPolicy) HeaderName() string {
	return http.CanonicalHeaderKey(strings.ReplaceAll(strings.TrimPrefix(p.EnvironKey, "HTTP_"), "_", "-"))
}

// UnauthenticatedUserID reads the environ variable, then the header.
func (p *RemoteUserPolicy) UnauthenticatedUserID(r *http.Request) (string, bool) {
	if v, ok := Environ(r)[p.EnvironKey]; ok && v != "" {
		return v, true
	}
	if v := r.Header.Get(p.HeaderName()); v != "" {
		return v, true
	}
	return "", false
}

func (p *RemoteUserPolicy) AuthenticatedUserID(r *http.Request) (string, bool) {
	userid, ok := p.UnauthenticatedUserID(r)
	return p.authenticated(r, userid, ok)
}

func (p *RemoteUserPolicy) EffectivePrincipals(r *http.Request) []string {
	userid, ok := p.UnauthenticatedUserID(r)
	return p.principals(r, userid, ok)
}

// Remember is a no-op; the front end owns the credentials.
func (p *RemoteUserPolicy) Remember(*http.Request, string) http.Header { return nil }

// Forget is a no-op.
func (p *RemoteUserPolicy) Forget(*http.Request) http.Header { return nil }
