// Package route compiles URL dispatch patterns.
//
// A pattern is a path whose segments may contain replacement markers:
//
//	/users/{id}             {id} matches one segment
//	/archive/{year:\d{4}}   a marker may carry its own regular expression
//	/static/*subpath        a trailing star marker captures the rest
//	/legacy/:name           old-style marker, same as {name}
//
// Pure domain logic: no I/O, no registry.
package route

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled route pattern.
type Pattern struct {
	Raw   string
	Names []string
	Star  string

	regex *regexp.Regexp
	parts []part
}

// part is a literal or a marker, kept for URL generation.
type part struct {
	literal string
	name    string
	star    bool
}

var oldStyle = regexp.MustCompile(`(^|/):([A-Za-z_][A-Za-z0-9_]*)`)

// Compile compiles a pattern. A missing leading slash is added.
func Compile(pattern string) (*Pattern, error) {
	raw := pattern
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	pattern = oldStyle.ReplaceAllString(pattern, "$1{$2}")

	p := &Pattern{Raw: raw}

	// star marker: "*name" as the last path segment
	if i := strings.LastIndex(pattern, "*"); i >= 0 && i+1 < len(pattern) && !strings.ContainsAny(pattern[i:], "/{}") {
		p.Star = pattern[i+1:]
		pattern = pattern[:i]
	}

	var expr strings.Builder
	expr.WriteString("^")
	for len(pattern) > 0 {
		open := strings.Index(pattern, "{")
		if open < 0 {
			expr.WriteString(regexp.QuoteMeta(pattern))
			p.parts = append(p.parts, part{literal: pattern})
			break
		}
		if open > 0 {
			expr.WriteString(regexp.QuoteMeta(pattern[:open]))
			p.parts = append(p.parts, part{literal: pattern[:open]})
		}
		end, err := closingBrace(pattern, open)
		if err != nil {
			return nil, fmt.Errorf("route pattern %q: %w", raw, err)
		}
		name, re, _ := strings.Cut(pattern[open+1:end], ":")
		if !validName(name) {
			return nil, fmt.Errorf("route pattern %q: invalid marker name %q", raw, name)
		}
		if re == "" {
			re = "[^/]+"
		}
		fmt.Fprintf(&expr, "(?P<%s>%s)", name, re)
		p.Names = append(p.Names, name)
		p.parts = append(p.parts, part{name: name})
		pattern = pattern[end+1:]
	}
	if p.Star != "" {
		if !validName(p.Star) {
			return nil, fmt.Errorf("route pattern %q: invalid star name %q", raw, p.Star)
		}
		fmt.Fprintf(&expr, "(?P<%s>.*?)", p.Star)
		p.Names = append(p.Names, p.Star)
		p.parts = append(p.parts, part{name: p.Star, star: true})
	}
	expr.WriteString("$")

	regex, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, fmt.Errorf("route pattern %q: %w", raw, err)
	}
	p.regex = regex
	return p, nil
}

// closingBrace finds the brace closing the marker opened at open, allowing
// one level of nested braces inside the marker's regular expression.
func closingBrace(s string, open int) (int, error) {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced braces")
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9') {
			continue
		}
		return false
	}
	return true
}

// JoinPrefix prefixes pattern with a route prefix.
func JoinPrefix(prefix, pattern string) string {
	if prefix == "" {
		return pattern
	}
	return strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(pattern, "/")
}
