package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Pylons/pyramid-zcml/adapters/auth"
	"github.com/Pylons/pyramid-zcml/adapters/clock"
	"github.com/Pylons/pyramid-zcml/ports"
)

// TicketOptions configures a TicketPolicy. Zero durations disable the
// corresponding behavior.
type TicketOptions struct {
	Secret      string
	Callback    Callback
	CookieName  string
	Secure      bool
	IncludeIP   bool
	Timeout     time.Duration
	ReissueTime time.Duration
	MaxAge      time.Duration
	Path        string
	HTTPOnly    bool
	WildDomain  bool
}

// TicketPolicy stores a signed authentication ticket in a cookie.
type TicketPolicy struct {
	callbackPolicy
	opts    TicketOptions
	tickets *auth.TicketService
	now     func() time.Time
}

// NewTicketPolicy validates opts and creates the policy.
func NewTicketPolicy(opts TicketOptions) (*TicketPolicy, error) {
	var errs []string
	if opts.Secret == "" {
		errs = append(errs, "secret is required")
	}
	if opts.Timeout < 0 {
		errs = append(errs, "timeout must not be negative")
	}
	if opts.ReissueTime < 0 {
		errs = append(errs, "reissue_time must not be negative")
	}
	if opts.MaxAge < 0 {
		errs = append(errs, "max_age must not be negative")
	}
	if opts.Timeout > 0 && opts.ReissueTime > 0 && opts.ReissueTime >= opts.Timeout {
		errs = append(errs, "reissue_time must be lower than timeout")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid ticket policy:\n  - %s", strings.Join(errs, "\n  - "))
	}

	if opts.CookieName == "" {
		opts.CookieName = "auth_tkt"
	}
	if opts.Path == "" {
		opts.Path = "/"
	}

	tickets, err := auth.NewTicketService(opts.Secret, opts.Timeout)
	if err != nil {
		return nil, err
	}

	return &TicketPolicy{
		callbackPolicy: callbackPolicy{callback: opts.Callback},
		opts:           opts,
		tickets:        tickets,
		now:            time.Now,
	}, nil
}

// Options returns the effective options.
func (p *TicketPolicy) Options() TicketOptions { return p.opts }

// WithClock replaces the time source.
func (p *TicketPolicy) WithClock(c ports.Clock) *TicketPolicy {
	p.now = clock.Func(c)
	p.tickets.WithClock(p.now)
	return p
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (p *TicketPolicy) identify(r *http.Request) (*auth.Ticket, error) {
	c, err := r.Cookie(p.opts.CookieName)
	if err != nil {
		return nil, err
	}
	if c.Value == "" {
		return nil, errors.New("empty ticket")
	}
	ticket, err := p.tickets.Validate(c.Value)
	if err != nil {
		return nil, err
	}
	if p.opts.IncludeIP && ticket.IP != remoteIP(r) {
		return nil, errors.New("ticket bound to another address")
	}
	return ticket, nil
}

func (p *TicketPolicy) UnauthenticatedUserID(r *http.Request) (string, bool) {
	ticket, err := p.identify(r)
	if err != nil {
		return "", false
	}
	return ticket.UserID, true
}

func (p *TicketPolicy) AuthenticatedUserID(r *http.Request) (string, bool) {
	userid, ok := p.UnauthenticatedUserID(r)
	return p.authenticated(r, userid, ok)
}

func (p *TicketPolicy) EffectivePrincipals(r *http.Request) []string {
	userid, ok := p.UnauthenticatedUserID(r)
	return p.principals(r, userid, ok)
}

func (p *TicketPolicy) cookies(r *http.Request, value string, maxAge int) []*http.Cookie {
	base := http.Cookie{
		Name:     p.opts.CookieName,
		Value:    value,
		Path:     p.opts.Path,
		Secure:   p.opts.Secure,
		HttpOnly: p.opts.HTTPOnly,
		MaxAge:   maxAge,
	}
	if maxAge > 0 {
		base.Expires = p.now().Add(time.Duration(maxAge) * time.Second).UTC()
	}

	out := []*http.Cookie{&base}
	if p.opts.WildDomain {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if host != "" && net.ParseIP(host) == nil {
			wild := base
			wild.Domain = host
			out = append(out, &wild)
		}
	}
	return out
}

// Remember issues a ticket for userid.
func (p *TicketPolicy) Remember(r *http.Request, userid string) http.Header {
	ip := ""
	if p.opts.IncludeIP {
		ip = remoteIP(r)
	}
	raw, err := p.tickets.Issue(userid, nil, ip)
	if err != nil {
		return nil
	}
	h := http.Header{}
	for _, c := range p.cookies(r, raw, int(p.opts.MaxAge/time.Second)) {
		h.Add("Set-Cookie", c.String())
	}
	return h
}

// Forget clears the ticket cookie.
func (p *TicketPolicy) Forget(r *http.Request) http.Header {
	h := http.Header{}
	for _, c := range p.cookies(r, "", -1) {
		h.Add("Set-Cookie", c.String())
	}
	return h
}

// Reissue refreshes a valid ticket older than the reissue time.
func (p *TicketPolicy) Reissue(w http.ResponseWriter, r *http.Request) {
	if p.opts.ReissueTime <= 0 {
		return
	}
	ticket, err := p.identify(r)
	if err != nil {
		return
	}
	if p.now().Sub(ticket.Issued()) <= p.opts.ReissueTime {
		return
	}
	for _, v := range p.Remember(r, ticket.UserID).Values("Set-Cookie") {
		w.Header().Add("Set-Cookie", v)
	}
}
