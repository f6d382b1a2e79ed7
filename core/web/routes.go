package web

import (
	"sync"

	"github.com/Pylons/pyramid-zcml/core/component"
	"github.com/Pylons/pyramid-zcml/domain/route"
)

// RootFactory returns the root resource of traversal for a request.
type RootFactory func(req *Request) any

// Route is a named URL pattern with its predicates and request interface.
type Route struct {
	Name           string
	Pattern        *route.Pattern
	Factory        RootFactory
	Predicates     PredicateSet
	Iface          *component.Interface
	UseGlobalViews bool

	// Traverse, when set, computes the traversal path from the match
	// dict instead of the *traverse star marker.
	Traverse *route.Pattern
}

// Match matches req against the pattern and the route predicates. The
// match dict is visible to predicates through req.MatchDict.
func (rt *Route) Match(req *Request) (map[string]string, bool) {
	md, ok := rt.Pattern.Match(req.URL.Path)
	if !ok {
		return nil, false
	}
	prev := req.MatchDict
	req.MatchDict = md
	if !rt.Predicates.Match(nil, req) {
		req.MatchDict = prev
		return nil, false
	}
	return md, true
}

// Generate builds the route's path from marker values.
func (rt *Route) Generate(values map[string]string) (string, error) {
	return rt.Pattern.Generate(values)
}

// RoutesMapper holds routes in registration order. Re-adding a route name
// replaces the old route and moves it to the end.
type RoutesMapper struct {
	mu     sync.RWMutex
	routes []*Route
	byName map[string]*Route
}

func NewRoutesMapper() *RoutesMapper {
	return &RoutesMapper{byName: make(map[string]*Route)}
}

// Connect adds rt.
func (m *RoutesMapper) Connect(rt *Route) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byName[rt.Name]; ok {
		for i, r := range m.routes {
			if r == old {
				m.routes = append(m.routes[:i], m.routes[i+1:]...)
				break
			}
		}
	}
	m.byName[rt.Name] = rt
	m.routes = append(m.routes, rt)
}

// Get returns the named route.
func (m *RoutesMapper) Get(name string) (*Route, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.byName[name]
	return rt, ok
}

// Routes returns the routes in match order.
func (m *RoutesMapper) Routes() []*Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Route(nil), m.routes...)
}

// Match returns the first route matching req.
func (m *RoutesMapper) Match(req *Request) (*Route, map[string]string) {
	for _, rt := range m.Routes() {
		if md, ok := rt.Match(req); ok {
			return rt, md
		}
	}
	return nil, nil
}
