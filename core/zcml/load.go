package zcml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/asset"
	"github.com/Pylons/pyramid-zcml/core/symbol"
	"github.com/Pylons/pyramid-zcml/core/web"
)

// DefaultFile is loaded when no file is named.
const DefaultFile = "configure.zcml"

// loadLock serialises parsing: while a file is parsed the registry's
// action state is replaced by the parse context's list. It is not
// reentrant.
var loadLock sync.Mutex

// LoadFunc is the signature of LoadZCML, registered as the "load_zcml"
// configurator directive by Includeme.
type LoadFunc func(cfg *web.Configurator, spec string) (*web.Registry, error)

// LoadZCML loads the configuration file spec into cfg's configuration.
// spec is an absolute path, a path relative to cfg's base path, or an
// asset spec "package:path/file.zcml"; empty means DefaultFile.
//
// The file is parsed into a fresh action list with autocommit off. Only
// when parsing succeeds are the actions appended to the registry's pending
// actions; they are committed right away if cfg autocommits.
func LoadZCML(cfg *web.Configurator, spec string) (*web.Registry, error) {
	return NewMachine(cfg.Logger).Load(cfg, spec)
}

// LoadZCMLWithLock is LoadZCML serialised by lock instead of the
// package-wide lock.
func LoadZCMLWithLock(cfg *web.Configurator, spec string, lock sync.Locker) (*web.Registry, error) {
	m := NewMachine(cfg.Logger)
	m.Lock = lock
	return m.Load(cfg, spec)
}

// Load is LoadZCML using the directives known to m.
func (m *Machine) Load(cfg *web.Configurator, spec string) (*web.Registry, error) {
	path, pkg, err := resolveFile(cfg, spec)
	if err != nil {
		cfg.Metrics.LoadFinished("error")
		return nil, err
	}

	ctx := NewContext(cfg.Registry, pkg, action.NewState())
	ctx.IncludePath = append([]string(nil), cfg.IncludePath...)
	ctx.RoutePrefix = cfg.RoutePrefix
	ctx.Introspection = cfg.Introspection
	ctx.Logger = cfg.Logger
	ctx.Metrics = cfg.Metrics

	if err := m.parse(ctx, path); err != nil {
		cfg.Metrics.LoadFinished("error")
		cfg.Logger.Error().Err(err).Str("file", path).Msg("configuration load failed")
		return nil, err
	}

	actions := ctx.Actions()
	cfg.Registry.ActionState().Extend(actions)
	cfg.Logger.Info().
		Str("file", path).
		Str("package", ctx.PackageName()).
		Int("actions", len(actions)).
		Msg("configuration loaded")

	if cfg.Autocommit {
		if _, err := cfg.Commit(); err != nil {
			if action.IsConflict(err) {
				cfg.Metrics.LoadFinished("conflict")
			} else {
				cfg.Metrics.LoadFinished("error")
			}
			return nil, err
		}
	}
	cfg.Metrics.LoadFinished("ok")
	return cfg.Registry, nil
}

// parse processes path with ctx's action list installed as the registry's
// action state, so configurator calls made by handlers land on it.
func (m *Machine) parse(ctx *Context, path string) error {
	var lock sync.Locker = &loadLock
	if m.Lock != nil {
		lock = m.Lock
	}
	lock.Lock()
	defer lock.Unlock()

	prev := ctx.Registry.SwapActionState(ctx.actions)
	defer ctx.Registry.SwapActionState(prev)

	return m.ProcessFile(ctx, path)
}

// resolveFile maps a file spec to a path and the package it belongs to.
func resolveFile(cfg *web.Configurator, spec string) (string, *symbol.Package, error) {
	if spec == "" {
		spec = DefaultFile
	}
	pkgName, rel := asset.Split(spec)
	switch {
	case pkgName != "":
		pkg, err := cfg.Registry.Symbols.ResolvePackage(pkgName, cfg.PackageName())
		if err != nil {
			return "", nil, err
		}
		path, err := cfg.Registry.Assets.Abs(asset.Join(pkg.Name, rel), "")
		if err != nil {
			return "", nil, err
		}
		return path, pkg, nil
	case filepath.IsAbs(rel):
		return rel, cfg.Package, nil
	}

	base := cfg.BasePath
	if base == "" && cfg.Package != nil {
		base = cfg.Package.Dir
	}
	return filepath.Join(base, rel), cfg.Package, nil
}

// Includeme makes LoadZCML available as the "load_zcml" directive of cfg.
func Includeme(cfg *web.Configurator) error {
	return cfg.AddDirective("load_zcml", LoadFunc(LoadZCML))
}

// ConfigureFile loads the configuration file name, relative to pkg, into
// reg and commits it. It returns the executed actions.
func ConfigureFile(reg *web.Registry, name string, pkg *symbol.Package) ([]action.Action, error) {
	cfg := web.NewConfigurator(reg, pkg)
	if err := Includeme(cfg); err != nil {
		return nil, err
	}
	if _, err := LoadZCML(cfg, name); err != nil {
		return nil, err
	}
	return cfg.Commit()
}

// MakeApp builds an application from a configuration file. A
// "configure_zcml" setting replaces filename. rootFactory may be nil.
//
// Deprecated: create a web.Configurator, call LoadZCML and then its
// MakeApp method.
func MakeApp(rootFactory web.RootFactory, pkg *symbol.Package, filename string, settings map[string]any) (*web.App, error) {
	if v, ok := settings["configure_zcml"].(string); ok && v != "" {
		filename = v
	}

	name := "default"
	if pkg != nil {
		name = pkg.Name
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	reg := web.NewRegistry(name, nil, logger)
	for k, v := range settings {
		reg.Settings[k] = v
	}

	cfg := web.NewConfigurator(reg, pkg)
	cfg.Autocommit = true
	if rootFactory != nil {
		if err := cfg.SetRootFactory(rootFactory); err != nil {
			return nil, err
		}
	}
	if err := Includeme(cfg); err != nil {
		return nil, err
	}
	if _, err := LoadZCML(cfg, filename); err != nil {
		return nil, fmt.Errorf("make app: %w", err)
	}
	return cfg.MakeApp(web.AppOptions{})
}

// Load calls the "load_zcml" directive of cfg, added by Includeme.
func Load(cfg *web.Configurator, spec string) (*web.Registry, error) {
	fn, ok := cfg.Directive("load_zcml")
	if !ok {
		return nil, errors.New(`configurator has no "load_zcml" directive; call zcml.Includeme first`)
	}
	load, ok := fn.(LoadFunc)
	if !ok {
		return nil, fmt.Errorf(`"load_zcml" directive has unexpected type %T`, fn)
	}
	return load(cfg, spec)
}
