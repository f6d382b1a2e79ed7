package zcml

import (
	"errors"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/asset"
	"github.com/Pylons/pyramid-zcml/core/symbol"
	"github.com/Pylons/pyramid-zcml/core/web"
	"github.com/Pylons/pyramid-zcml/ports"
)

// Context is the state directives are processed in. Each included file
// gets its own Context; all of them record onto the same action list.
type Context struct {
	Registry      *web.Registry
	Package       *symbol.Package
	Autocommit    bool
	BasePath      string
	IncludePath   []string
	Info          string
	RoutePrefix   string
	Introspection bool

	Logger  zerolog.Logger
	Metrics ports.Metrics

	eager   bool
	actions *action.State
	seen    map[string]bool
}

// NewContext creates a context recording onto actions. A nil actions
// records onto the registry's current action state.
func NewContext(reg *web.Registry, pkg *symbol.Package, actions *action.State) *Context {
	if actions == nil {
		actions = reg.ActionState()
	}
	ctx := &Context{
		Registry:      reg,
		Package:       pkg,
		Introspection: true,
		Logger:        reg.Logger,
		Metrics:       ports.NopMetrics{},
		actions:       actions,
		seen:          make(map[string]bool),
	}
	if pkg != nil {
		ctx.BasePath = pkg.Dir
	}
	return ctx
}

// Actions returns the actions recorded so far.
func (c *Context) Actions() []action.Action {
	return c.actions.Actions
}

// PackageName returns the name relative dotted names resolve against.
func (c *Context) PackageName() string {
	if c.Package == nil {
		return ""
	}
	return c.Package.Name
}

// Action records a deferred action located at the current directive.
func (c *Context) Action(a action.Action) {
	if a.Info == "" {
		a.Info = c.Info
	}
	if a.IncludePath == nil {
		a.IncludePath = append([]string(nil), c.IncludePath...)
	}
	if !c.Introspection {
		a.Introspectables = nil
	}
	c.actions.Add(a)
}

// Path makes a file name absolute. Relative names are taken relative to
// the directory of the file being processed.
func (c *Context) Path(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	base := c.BasePath
	if base == "" && c.Package != nil {
		base = c.Package.Dir
	}
	p, err := filepath.Abs(filepath.Join(base, name))
	if err != nil {
		return filepath.Join(base, name)
	}
	return p
}

func (c *Context) resolve(name string) (*symbol.Symbol, error) {
	return c.Registry.Symbols.Resolve(name, c.PackageName())
}

// child returns a copy for a nested element. The action list and the set
// of processed files are shared.
func (c *Context) child() *Context {
	cp := *c
	cp.IncludePath = append([]string(nil), c.IncludePath...)
	return &cp
}

// Errorf returns a configuration error located at the current directive.
func (c *Context) Errorf(format string, args ...any) error {
	return action.Errorf(format, args...).WithInfo(c.Info)
}

// locate attaches the current directive info to err.
func (c *Context) locate(err error) error {
	if err == nil {
		return nil
	}
	var ce *action.ConfigurationError
	if errors.As(err, &ce) {
		if ce.Info == "" {
			ce.Info = c.Info
		}
		return err
	}
	return &action.ConfigurationError{Err: err, Info: c.Info}
}

// WithContext returns a new configurator mirroring ctx: registry, package,
// autocommit, base path, include path, info, route prefix and
// introspection. Its actions land on ctx's action list.
func WithContext(ctx *Context) *web.Configurator {
	cfg := web.NewConfigurator(ctx.Registry, ctx.Package)
	cfg.Autocommit = ctx.Autocommit
	cfg.Eager = ctx.eager
	cfg.BasePath = ctx.BasePath
	cfg.IncludePath = append([]string(nil), ctx.IncludePath...)
	cfg.Info = ctx.Info
	cfg.RoutePrefix = ctx.RoutePrefix
	cfg.Introspection = ctx.Introspection
	cfg.Logger = ctx.Logger
	cfg.Metrics = ctx.Metrics
	return cfg
}

// PathSpec turns a path given in a directive into an asset spec when it
// lies inside the current package, so asset overrides apply to it. Asset
// specs are returned unchanged.
func PathSpec(ctx *Context, p string) string {
	if asset.IsSpec(p) && !filepath.IsAbs(p) {
		return p
	}
	abs := ctx.Path(p)
	if ctx.Package != nil {
		return asset.SpecFromAbsPath(abs, ctx.Package)
	}
	return abs
}
