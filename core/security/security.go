// Package security provides the authentication and authorization policies
// the configuration directives can install.
package security

import (
	"net/http"
	"sort"
)

// Well-known principals.
const (
	Everyone      = "system.Everyone"
	Authenticated = "system.Authenticated"
)

// ACE actions.
const (
	Allow = "Allow"
	Deny  = "Deny"
)

// AllPermissions matches every permission in an ACE.
const AllPermissions = "__all_permissions__"

// NoPermissionRequired disables the default permission for a view.
const NoPermissionRequired = "__no_permission_required__"

// Callback maps an authenticated user id to its group principals. It returns
// false when the user id is no longer valid.
type Callback func(userid string, r *http.Request) ([]string, bool)

// AuthenticationPolicy identifies the user making a request.
type AuthenticationPolicy interface {
	// AuthenticatedUserID returns the user id after validation by the
	// policy's callback.
	AuthenticatedUserID(r *http.Request) (string, bool)

	// UnauthenticatedUserID returns the user id claimed by the request.
	UnauthenticatedUserID(r *http.Request) (string, bool)

	// EffectivePrincipals returns every principal the request acts as,
	// Everyone included.
	EffectivePrincipals(r *http.Request) []string

	// Remember returns headers that log userid in on the next request.
	Remember(r *http.Request, userid string) http.Header

	// Forget returns headers that log the current user out.
	Forget(r *http.Request) http.Header
}

// AuthorizationPolicy decides whether principals hold a permission on a
// context.
type AuthorizationPolicy interface {
	Permits(context any, principals []string, permission string) bool
	PrincipalsAllowedByPermission(context any, permission string) []string
}

// Reissuer is implemented by policies that refresh their credentials on
// responses.
type Reissuer interface {
	Reissue(w http.ResponseWriter, r *http.Request)
}

// callbackPolicy holds the behavior shared by policies that validate a
// claimed user id through a Callback.
type callbackPolicy struct {
	callback Callback
}

func (p callbackPolicy) authenticated(r *http.Request, userid string, ok bool) (string, bool) {
	if !ok || userid == "" || userid == Everyone || userid == Authenticated {
		return "", false
	}
	if p.callback == nil {
		return userid, true
	}
	if _, valid := p.callback(userid, r); valid {
		return userid, true
	}
	return "", false
}

func (p callbackPolicy) principals(r *http.Request, userid string, ok bool) []string {
	out := []string{Everyone}
	if !ok || userid == "" || userid == Everyone || userid == Authenticated {
		return out
	}
	if p.callback == nil {
		return append(out, Authenticated, userid)
	}
	groups, valid := p.callback(userid, r)
	if !valid {
		return out
	}
	out = append(out, Authenticated, userid)
	return append(out, groups...)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
