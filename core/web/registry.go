// Package web is the application configurator and request dispatcher that
// configuration directives register into.
//
// A Configurator records registrations (views, routes, policies, renderers,
// subscribers) as deferred actions on its Registry. Commit resolves
// conflicts and executes them. MakeApp turns the committed Registry into an
// http.Handler that matches routes, traverses resources, finds the view for
// the request and context, and renders its result.
package web

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/asset"
	"github.com/Pylons/pyramid-zcml/core/component"
	"github.com/Pylons/pyramid-zcml/core/i18n"
	"github.com/Pylons/pyramid-zcml/core/symbol"
)

// Registry is the component registry of one application plus the state
// shared by every configurator working on it.
type Registry struct {
	*component.Registry

	Name         string
	Settings     map[string]any
	Symbols      *symbol.Table
	Assets       *asset.Resolver
	Translations *i18n.Translations
	Routes       *RoutesMapper
	Logger       zerolog.Logger

	mu              sync.Mutex
	actionState     *action.State
	routeIfaces     map[string]*component.Interface
	directives      map[string]any
	introspectables []action.Introspectable
}

// NewRegistry creates an empty registry resolving names through symbols.
// A nil table uses symbol.Default.
func NewRegistry(name string, symbols *symbol.Table, logger zerolog.Logger) *Registry {
	if symbols == nil {
		symbols = symbol.Default
	}
	return &Registry{
		Registry:     component.NewRegistry(),
		Name:         name,
		Settings:     make(map[string]any),
		Symbols:      symbols,
		Assets:       asset.NewResolver(symbols),
		Translations: i18n.NewTranslations(logger),
		Routes:       NewRoutesMapper(),
		Logger:       logger,
		actionState:  action.NewState(),
		routeIfaces:  make(map[string]*component.Interface),
		directives:   make(map[string]any),
	}
}

// ActionState returns the list non-autocommitting configurators record
// their actions on.
func (r *Registry) ActionState() *action.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actionState
}

// SwapActionState installs s as the action list and returns the previous
// one, which the caller must restore.
func (r *Registry) SwapActionState(s *action.State) *action.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.actionState
	r.actionState = s
	return prev
}

// RouteRequestIface returns the request interface of the named route,
// creating it on first use. Requests matched by a route with global views
// also provide IRequest.
func (r *Registry) RouteRequestIface(name string, useGlobalViews bool) *component.Interface {
	r.mu.Lock()
	defer r.mu.Unlock()

	if iface, ok := r.routeIfaces[name]; ok {
		return iface
	}
	bases := []*component.Interface{IRouteRequest}
	if useGlobalViews {
		bases = append(bases, IRequest)
	}
	iface := component.NewInterface(name+"_IRequest", bases...)
	r.routeIfaces[name] = iface
	return iface
}

// LookupRouteRequestIface returns the request interface of an existing
// route.
func (r *Registry) LookupRouteRequestIface(name string) (*component.Interface, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iface, ok := r.routeIfaces[name]
	return iface, ok
}

// Setting returns a settings value.
func (r *Registry) Setting(name string) (any, bool) {
	v, ok := r.Settings[name]
	return v, ok
}

// AddIntrospectables records introspection data of executed actions.
func (r *Registry) AddIntrospectables(items ...action.Introspectable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.introspectables = append(r.introspectables, items...)
}

// Introspectables returns the recorded introspection data.
func (r *Registry) Introspectables() []action.Introspectable {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]action.Introspectable(nil), r.introspectables...)
}
