package route

import (
	"fmt"
	"net/url"
	"strings"
)

// Match matches path against the pattern and returns the marker values.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	m := p.regex.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	params := make(map[string]string, len(p.Names))
	for i, name := range p.regex.SubexpNames() {
		if i > 0 && name != "" {
			params[name] = m[i]
		}
	}
	return params, true
}

// Segments splits a star marker value into path segments.
func Segments(v string) []string {
	var out []string
	for _, s := range strings.Split(v, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Generate builds a path from marker values. Every marker except the star
// marker is required.
func (p *Pattern) Generate(values map[string]string) (string, error) {
	var b strings.Builder
	for _, pt := range p.parts {
		switch {
		case pt.name == "":
			b.WriteString(pt.literal)
		case pt.star:
			segs := Segments(values[pt.name])
			for i, s := range segs {
				if i > 0 {
					b.WriteString("/")
				}
				b.WriteString(url.PathEscape(s))
			}
		default:
			v, ok := values[pt.name]
			if !ok {
				return "", fmt.Errorf("route pattern %q: missing value for %q", p.Raw, pt.name)
			}
			b.WriteString(url.PathEscape(v))
		}
	}
	return b.String(), nil
}
