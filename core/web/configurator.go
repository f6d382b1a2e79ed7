package web

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/component"
	"github.com/Pylons/pyramid-zcml/core/symbol"
	"github.com/Pylons/pyramid-zcml/ports"
)

// Configurator is the imperative configuration API. It records
// registrations as actions on its registry's action state; Commit resolves
// and executes them. With Autocommit set, actions run as soon as they are
// recorded.
type Configurator struct {
	Registry   *Registry
	Package    *symbol.Package
	Autocommit bool

	// Eager runs actions immediately like Autocommit but still records
	// them. Commit then reports conflicts and runs the winner of each
	// discriminator again, so an override in an including file takes
	// effect even when the included file ran later.
	Eager bool

	BasePath      string
	IncludePath   []string
	Info          string
	RoutePrefix   string
	Introspection bool

	Logger  zerolog.Logger
	Metrics ports.Metrics
}

// NewConfigurator creates a configurator for pkg working on reg.
func NewConfigurator(reg *Registry, pkg *symbol.Package) *Configurator {
	c := &Configurator{
		Registry:      reg,
		Package:       pkg,
		Introspection: true,
		Logger:        reg.Logger,
		Metrics:       ports.NopMetrics{},
	}
	if pkg != nil {
		c.BasePath = pkg.Dir
	}
	return c
}

// Clone returns a copy sharing the registry. The include path is copied.
func (c *Configurator) Clone() *Configurator {
	cp := *c
	cp.IncludePath = append([]string(nil), c.IncludePath...)
	return &cp
}

// PackageName returns the dotted name relative names resolve against.
func (c *Configurator) PackageName() string {
	if c.Package == nil {
		return ""
	}
	return c.Package.Name
}

// Resolve resolves a possibly relative dotted name.
func (c *Configurator) Resolve(name string) (*symbol.Symbol, error) {
	sym, err := c.Registry.Symbols.Resolve(name, c.PackageName())
	if err != nil {
		return nil, c.locate(err)
	}
	return sym, nil
}

// MaybeDotted resolves v when it is a dotted name and returns it unchanged
// otherwise.
func (c *Configurator) MaybeDotted(v any) (any, error) {
	name, ok := v.(string)
	if !ok {
		return v, nil
	}
	sym, err := c.Resolve(name)
	if err != nil {
		return nil, err
	}
	return sym.Value, nil
}

// ResolveSpec resolves v (a dotted name, interface or type spec) to a
// component spec. Nil stays nil.
func (c *Configurator) ResolveSpec(v any) (component.Spec, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case component.Spec:
		return s, nil
	case string:
		if s == "" {
			return nil, nil
		}
		sym, err := c.Resolve(s)
		if err != nil {
			return nil, err
		}
		spec, err := sym.Spec()
		if err != nil {
			return nil, c.locate(err)
		}
		return spec, nil
	}
	return nil, c.locate(action.Errorf("%v (%T) is not an interface or type", v, v))
}

// locate attaches the current directive info to configuration errors.
func (c *Configurator) locate(err error) error {
	if ce, ok := err.(*action.ConfigurationError); ok {
		return ce.WithInfo(c.Info)
	}
	return err
}

// Action records a. Missing info and include path are taken from the
// configurator.
func (c *Configurator) Action(a action.Action) error {
	if a.Info == "" {
		a.Info = c.Info
	}
	if a.IncludePath == nil {
		a.IncludePath = append([]string(nil), c.IncludePath...)
	}
	if !c.Introspection {
		a.Introspectables = nil
	}

	if !c.Autocommit && !c.Eager {
		c.Registry.ActionState().Add(a)
		return nil
	}

	if err := a.Run(); err != nil {
		return &action.ExecutionError{Discriminator: a.Discriminator, Info: a.Info, Err: err}
	}
	c.Registry.AddIntrospectables(a.Introspectables...)
	if c.Eager && !c.Autocommit && !a.Discriminator.IsZero() {
		a.Introspectables = nil
		c.Registry.ActionState().Add(a)
	}
	return nil
}

// Commit resolves conflicts among the pending actions and executes them.
// It returns the executed actions.
func (c *Configurator) Commit() ([]action.Action, error) {
	state := c.Registry.ActionState()
	pending := state.Len()

	executed, err := state.Execute()
	for _, a := range executed {
		c.Logger.Debug().
			Str("discriminator", a.Discriminator.String()).
			Int("order", a.Order).
			Msg("action executed")
		c.Registry.AddIntrospectables(a.Introspectables...)
	}
	if err != nil {
		var ce *action.ConflictError
		if errors.As(err, &ce) {
			c.Metrics.Conflicts(len(ce.Conflicts))
		}
		c.Logger.Error().Err(err).Int("pending", pending).Msg("commit failed")
		return executed, err
	}

	c.Metrics.ActionsCommitted(len(executed))
	c.Logger.Info().
		Str("registry", c.Registry.Name).
		Int("actions", len(executed)).
		Msg("configuration committed")
	return executed, nil
}

// AddDirective extends the configurator with a named directive. fn is
// usually a func taking the *Configurator first.
func (c *Configurator) AddDirective(name string, fn any) error {
	if name == "" || fn == nil {
		return fmt.Errorf("add directive: name and callable are required")
	}
	c.Registry.mu.Lock()
	defer c.Registry.mu.Unlock()
	c.Registry.directives[name] = fn
	return nil
}

// Directive returns a directive added with AddDirective.
func (c *Configurator) Directive(name string) (any, bool) {
	c.Registry.mu.Lock()
	defer c.Registry.mu.Unlock()
	fn, ok := c.Registry.directives[name]
	return fn, ok
}

// Directives returns the names of the added directives.
func (c *Configurator) Directives() []string {
	c.Registry.mu.Lock()
	defer c.Registry.mu.Unlock()
	names := make([]string, 0, len(c.Registry.directives))
	for n := range c.Registry.directives {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Scan runs the callbacks attached to a package and its subpackages,
// optionally restricted to categories. Callbacks have the signature
// func(*Configurator) error.
func (c *Configurator) Scan(pkg string, categories ...string) error {
	if pkg == "" {
		pkg = c.PackageName()
	}
	p, err := c.Registry.Symbols.ResolvePackage(pkg, c.PackageName())
	if err != nil {
		return c.locate(err)
	}

	attached := c.Registry.Symbols.Callbacks(p.Name, categories...)
	c.Logger.Debug().Str("package", p.Name).Int("callbacks", len(attached)).Msg("scanning package")
	for _, a := range attached {
		fn, ok := a.Callback.(func(*Configurator) error)
		if !ok {
			return c.locate(action.Errorf("scan callback %s.%s has unsupported type %T", a.Package, a.Name, a.Callback))
		}
		sub := c.Clone()
		if pkg, ok := c.Registry.Symbols.Package(a.Package); ok {
			sub.Package = pkg
		}
		if err := fn(sub); err != nil {
			return fmt.Errorf("scan %s.%s: %w", a.Package, a.Name, err)
		}
	}
	return nil
}

// SetRootFactory sets the root factory used for requests not matched by a
// route with its own factory.
func (c *Configurator) SetRootFactory(factory RootFactory) error {
	info := c.Info
	return c.Action(action.Action{
		Discriminator: action.Key(IRootFactory),
		Order:         action.Phase2,
		Callable: func([]any, map[string]any) error {
			return c.Registry.RegisterUtility(factory, IRootFactory, "", info, nil)
		},
	})
}

// AddSubscriber subscribes handler to events providing ifaces. Subscribers
// never conflict.
func (c *Configurator) AddSubscriber(handler component.Handler, ifaces ...component.Spec) error {
	if handler == nil {
		return c.locate(action.Errorf("subscriber handler is required"))
	}
	if len(ifaces) == 0 {
		ifaces = []component.Spec{component.Object}
	}
	names := make([]string, len(ifaces))
	for i, s := range ifaces {
		names[i] = fmt.Sprint(s)
	}
	info := c.Info
	return c.Action(action.Action{
		Callable: func([]any, map[string]any) error {
			return c.Registry.RegisterHandler(handler, ifaces, info)
		},
		Introspectables: []action.Introspectable{{
			Category: "subscribers",
			Title:    "subscriber for " + strings.Join(names, ", "),
			TypeName: "subscriber",
		}},
	})
}
