package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Pylons/pyramid-zcml/adapters/clock"
)

func groupCallback(groups map[string][]string) Callback {
	return func(userid string, r *http.Request) ([]string, bool) {
		g, ok := groups[userid]
		return g, ok
	}
}

func TestRemoteUserPolicy(t *testing.T) {
	p := NewRemoteUserPolicy("", groupCallback(map[string][]string{"fred": {"group:editors"}}))
	if p.EnvironKey != "REMOTE_USER" || p.HeaderName() != "Remote-User" {
		t.Fatalf("defaults = %q / %q", p.EnvironKey, p.HeaderName())
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Remote-User", "fred")
	if id, ok := p.AuthenticatedUserID(r); !ok || id != "fred" {
		t.Errorf("AuthenticatedUserID() = %q, %v", id, ok)
	}
	got := p.EffectivePrincipals(r)
	want := []string{Everyone, Authenticated, "fred", "group:editors"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("EffectivePrincipals() = %v, want %v", got, want)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r = r.WithContext(WithEnviron(r.Context(), map[string]string{"REMOTE_USER": "bob"}))
	if id, ok := p.UnauthenticatedUserID(r); !ok || id != "bob" {
		t.Errorf("environ user = %q, %v", id, ok)
	}
	if _, ok := p.AuthenticatedUserID(r); ok {
		t.Error("callback rejects bob")
	}
	if got := p.EffectivePrincipals(r); len(got) != 1 || got[0] != Everyone {
		t.Errorf("rejected user principals = %v", got)
	}
}

func TestRemoteUserPolicy_CustomKey(t *testing.T) {
	p := NewRemoteUserPolicy("HTTP_X_FORWARDED_USER", nil)
	if p.HeaderName() != "X-Forwarded-User" {
		t.Errorf("HeaderName() = %q", p.HeaderName())
	}
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-User", "system.Everyone")
	if _, ok := p.AuthenticatedUserID(r); ok {
		t.Error("reserved principal names are never authenticated")
	}
}

type plugin struct{ forgot bool }

func (p *plugin) Remember(r *http.Request, id Identity) http.Header {
	return http.Header{"X-Remember": {id[UserIDKey].(string)}}
}

func (p *plugin) Forget(r *http.Request, id Identity) http.Header {
	p.forgot = true
	return http.Header{"X-Forget": {"1"}}
}

func TestIdentityPolicy(t *testing.T) {
	p := NewIdentityPolicy("", nil)
	if p.IdentifierName != "auth_tkt" {
		t.Fatalf("IdentifierName = %q", p.IdentifierName)
	}

	r := httptest.NewRequest("GET", "/", nil)
	if _, ok := p.AuthenticatedUserID(r); ok {
		t.Error("no identity, no user")
	}
	if h := p.Remember(r, "fred"); h != nil {
		t.Error("no identifier plugin, no headers")
	}

	pl := &plugin{}
	ctx := WithIdentity(r.Context(), Identity{UserIDKey: "fred"})
	ctx = WithIdentifiers(ctx, map[string]Identifier{"auth_tkt": pl})
	r = r.WithContext(ctx)

	if id, ok := p.AuthenticatedUserID(r); !ok || id != "fred" {
		t.Errorf("AuthenticatedUserID() = %q, %v", id, ok)
	}
	if h := p.Remember(r, "fred"); h.Get("X-Remember") != "fred" {
		t.Errorf("Remember() = %v", h)
	}
	p.Forget(r)
	if !pl.forgot {
		t.Error("Forget() should delegate to the plugin")
	}
}

func TestNewTicketPolicy_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts TicketOptions
	}{
		{"no secret", TicketOptions{}},
		{"negative timeout", TicketOptions{Secret: "s", Timeout: -time.Second}},
		{"negative max age", TicketOptions{Secret: "s", MaxAge: -time.Second}},
		{"reissue not lower than timeout", TicketOptions{Secret: "s", Timeout: time.Minute, ReissueTime: time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTicketPolicy(tt.opts); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	p, err := NewTicketPolicy(TicketOptions{Secret: "s"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Options().CookieName != "auth_tkt" || p.Options().Path != "/" {
		t.Errorf("defaults = %+v", p.Options())
	}
}

func cookieRequest(h http.Header, remoteAddr string) *http.Request {
	r := httptest.NewRequest("GET", "http://example.com/", nil)
	r.RemoteAddr = remoteAddr
	for _, c := range (&http.Response{Header: h}).Cookies() {
		if c.Domain == "" {
			r.AddCookie(c)
		}
	}
	return r
}

func TestTicketPolicy_RememberIdentify(t *testing.T) {
	p, err := NewTicketPolicy(TicketOptions{Secret: "s3cret", IncludeIP: true, WildDomain: true, HTTPOnly: true})
	if err != nil {
		t.Fatal(err)
	}

	login := httptest.NewRequest("POST", "http://example.com/login", nil)
	login.RemoteAddr = "10.0.0.1:1234"
	h := p.Remember(login, "fred")
	if n := len(h.Values("Set-Cookie")); n != 2 {
		t.Fatalf("Remember() set %d cookies, want 2 (plain and wild domain)", n)
	}
	if !strings.Contains(h.Get("Set-Cookie"), "HttpOnly") {
		t.Errorf("cookie = %q, want HttpOnly", h.Get("Set-Cookie"))
	}

	r := cookieRequest(h, "10.0.0.1:5555")
	if id, ok := p.AuthenticatedUserID(r); !ok || id != "fred" {
		t.Errorf("AuthenticatedUserID() = %q, %v", id, ok)
	}

	other := cookieRequest(h, "10.0.0.2:5555")
	if _, ok := p.UnauthenticatedUserID(other); ok {
		t.Error("ticket is bound to the issuing address")
	}

	forget := p.Forget(r)
	if !strings.Contains(forget.Get("Set-Cookie"), "Max-Age=0") {
		t.Errorf("Forget() = %q", forget.Get("Set-Cookie"))
	}
}

func TestTicketPolicy_Reissue(t *testing.T) {
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	p, err := NewTicketPolicy(TicketOptions{Secret: "s3cret", Timeout: time.Hour, ReissueTime: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	p.WithClock(fake)

	r := cookieRequest(p.Remember(httptest.NewRequest("GET", "/", nil), "fred"), "10.0.0.1:1")

	w := httptest.NewRecorder()
	p.Reissue(w, r)
	if w.Header().Get("Set-Cookie") != "" {
		t.Error("fresh ticket should not be reissued")
	}

	fake.Advance(2 * time.Minute)
	w = httptest.NewRecorder()
	p.Reissue(w, r)
	if w.Header().Get("Set-Cookie") == "" {
		t.Error("old ticket should be reissued")
	}

	fake.Advance(2 * time.Hour)
	if _, ok := p.UnauthenticatedUserID(r); ok {
		t.Error("ticket past timeout should be rejected")
	}
}

type node struct {
	parent any
	acl    []ACE
}

func (n *node) Parent() any {
	if n.parent == nil {
		return nil
	}
	return n.parent
}
func (n *node) ACL() []ACE { return n.acl }

func TestACLPolicy_Permits(t *testing.T) {
	root := &node{acl: []ACE{
		{Allow, Everyone, []string{"view"}},
		{Allow, "group:editors", []string{"edit"}},
	}}
	child := &node{parent: root, acl: []ACE{
		{Deny, "fred", []string{"edit"}},
	}}
	locked := &node{parent: root, acl: []ACE{DenyAll}}

	p := NewACLPolicy()
	tests := []struct {
		name       string
		context    any
		principals []string
		permission string
		want       bool
	}{
		{"inherited allow", child, []string{Everyone}, "view", true},
		{"group allow", child, []string{Everyone, "group:editors"}, "edit", true},
		{"local deny wins", child, []string{Everyone, "fred", "group:editors"}, "edit", false},
		{"deny all", locked, []string{Everyone, "group:editors"}, "view", false},
		{"no match", root, []string{Everyone}, "delete", false},
		{"no acl", struct{}{}, []string{Everyone}, "view", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Permits(tt.context, tt.principals, tt.permission); got != tt.want {
				t.Errorf("Permits() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestACLPolicy_PrincipalsAllowedByPermission(t *testing.T) {
	root := &node{acl: []ACE{
		{Allow, "fred", []string{"read"}},
		{Allow, "bob", []string{"read"}},
	}}
	child := &node{parent: root, acl: []ACE{
		{Deny, "bob", []string{"read"}},
		{Allow, "alice", []string{AllPermissions}},
	}}
	locked := &node{parent: child, acl: []ACE{DenyAll}}

	p := NewACLPolicy()
	if got := p.PrincipalsAllowedByPermission(child, "read"); strings.Join(got, ",") != "alice,fred" {
		t.Errorf("PrincipalsAllowedByPermission(child) = %v", got)
	}
	if got := p.PrincipalsAllowedByPermission(locked, "read"); len(got) != 0 {
		t.Errorf("PrincipalsAllowedByPermission(locked) = %v", got)
	}
}
