package web

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/munnerz/goautoneg"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/component"
	"github.com/Pylons/pyramid-zcml/core/security"
)

// CustomPredicate is a user-supplied view or route predicate. Name
// identifies it in discriminators and predicate hashes; without one the
// function's entry point is used, which closures of the same literal share.
type CustomPredicate struct {
	Name string
	Fn   func(context any, req *Request) bool
}

// DiscriminatorKey implements action.Keyer.
func (p CustomPredicate) DiscriminatorKey() string {
	if p.Name != "" {
		return "predicate:" + p.Name
	}
	return action.Key(p.Fn).String()
}

func (p CustomPredicate) String() string {
	if p.Name != "" {
		return p.Name
	}
	return action.Key(p.Fn).String()
}

// Predicate narrows the requests a view or route applies to. Text is the
// human readable form, Hash identifies the predicate for multi-view
// replacement.
type Predicate struct {
	Text string
	Hash string
	Fn   func(context any, req *Request) bool
}

// PredicateSet is a list of predicates that must all hold.
type PredicateSet []Predicate

// Match reports whether every predicate holds.
func (ps PredicateSet) Match(context any, req *Request) bool {
	for _, p := range ps {
		if !p.Fn(context, req) {
			return false
		}
	}
	return true
}

// Hash combines the predicate hashes independently of order.
func (ps PredicateSet) Hash() string {
	hashes := make([]string, len(ps))
	for i, p := range ps {
		hashes[i] = p.Hash
	}
	sort.Strings(hashes)
	return strings.Join(hashes, "|")
}

// PredicateOptions holds the predicate arguments shared by views and
// routes.
type PredicateOptions struct {
	XHR              bool
	RequestMethod    string
	PathInfo         string
	RequestParam     string
	Header           string
	Accept           string
	Containment      component.Spec
	RequestType      component.Spec
	CustomPredicates []CustomPredicate
}

// BuildPredicates compiles opts into predicates. Invalid regular
// expressions are configuration errors.
func BuildPredicates(opts PredicateOptions) (PredicateSet, error) {
	var ps PredicateSet

	if opts.XHR {
		ps = append(ps, Predicate{
			Text: "xhr = True",
			Hash: "xhr:true",
			Fn: func(_ any, req *Request) bool {
				return req.Header.Get("X-Requested-With") == "XMLHttpRequest"
			},
		})
	}

	if opts.RequestMethod != "" {
		methods := strings.Fields(strings.ReplaceAll(strings.ToUpper(opts.RequestMethod), ",", " "))
		allowed := make(map[string]bool, len(methods)+1)
		for _, m := range methods {
			allowed[m] = true
		}
		if allowed[http.MethodGet] {
			allowed[http.MethodHead] = true
		}
		sort.Strings(methods)
		ps = append(ps, Predicate{
			Text: "request_method = " + strings.Join(methods, ","),
			Hash: "request_method:" + strings.Join(methods, ","),
			Fn: func(_ any, req *Request) bool {
				return allowed[req.Method]
			},
		})
	}

	if opts.PathInfo != "" {
		re, err := regexp.Compile(opts.PathInfo)
		if err != nil {
			return nil, action.Errorf("path_info must be a regular expression: %s", err)
		}
		ps = append(ps, Predicate{
			Text: "path_info = " + opts.PathInfo,
			Hash: "path_info:" + opts.PathInfo,
			Fn: func(_ any, req *Request) bool {
				return re.MatchString(req.URL.Path)
			},
		})
	}

	if opts.RequestParam != "" {
		name, value, hasValue := strings.Cut(opts.RequestParam, "=")
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		ps = append(ps, Predicate{
			Text: "request_param " + opts.RequestParam,
			Hash: "request_param:" + opts.RequestParam,
			Fn: func(_ any, req *Request) bool {
				if err := req.ParseForm(); err != nil {
					return false
				}
				vs, ok := req.Form[name]
				if !ok {
					return false
				}
				if !hasValue {
					return true
				}
				for _, v := range vs {
					if v == value {
						return true
					}
				}
				return false
			},
		})
	}

	if opts.Header != "" {
		name, expr, hasExpr := strings.Cut(opts.Header, ":")
		var re *regexp.Regexp
		if hasExpr {
			var err error
			if re, err = regexp.Compile(expr); err != nil {
				return nil, action.Errorf("header value must be a regular expression: %s", err)
			}
		}
		ps = append(ps, Predicate{
			Text: "header " + opts.Header,
			Hash: "header:" + opts.Header,
			Fn: func(_ any, req *Request) bool {
				vs, ok := req.Header[http.CanonicalHeaderKey(name)]
				if !ok {
					return false
				}
				if re == nil {
					return true
				}
				for _, v := range vs {
					if re.MatchString(v) {
						return true
					}
				}
				return false
			},
		})
	}

	if opts.Accept != "" {
		offer := opts.Accept
		ps = append(ps, Predicate{
			Text: "accept = " + offer,
			Hash: "accept:" + offer,
			Fn: func(_ any, req *Request) bool {
				return Accepts(req.Header.Get("Accept"), offer)
			},
		})
	}

	if opts.Containment != nil {
		spec := opts.Containment
		ps = append(ps, Predicate{
			Text: fmt.Sprintf("containment = %s", spec),
			Hash: "containment:" + spec.DiscriminatorKey(),
			Fn: func(context any, _ *Request) bool {
				for _, loc := range security.Lineage(context) {
					if component.Provides(loc, spec) {
						return true
					}
				}
				return false
			},
		})
	}

	if opts.RequestType != nil {
		spec := opts.RequestType
		ps = append(ps, Predicate{
			Text: fmt.Sprintf("request_type = %s", spec),
			Hash: "request_type:" + spec.DiscriminatorKey(),
			Fn: func(_ any, req *Request) bool {
				return component.Provides(req, spec)
			},
		})
	}

	for _, custom := range opts.CustomPredicates {
		if custom.Fn == nil {
			continue
		}
		ps = append(ps, Predicate{
			Text: "custom predicate " + custom.String(),
			Hash: "custom:" + custom.DiscriminatorKey(),
			Fn:   custom.Fn,
		})
	}

	return ps, nil
}

// Accepts reports whether an Accept header admits the media type offer.
// A missing header admits everything. Wildcards are honored on both sides.
func Accepts(header, offer string) bool {
	if strings.TrimSpace(header) == "" {
		return true
	}
	otype, osub, _ := strings.Cut(offer, "/")
	for _, clause := range goautoneg.ParseAccept(header) {
		if clause.Q <= 0 {
			continue
		}
		if (clause.Type == "*" || otype == "*" || clause.Type == otype) &&
			(clause.SubType == "*" || osub == "*" || clause.SubType == osub) {
			return true
		}
	}
	return false
}
