// Package symbol maps dotted names used in configuration files to live Go
// values.
//
// Go cannot import code by name at runtime, so every object a configuration
// file may reference (view functions, factories, interfaces, types, policy
// callbacks) is registered in a Table under a dotted name:
//
//	tbl := symbol.NewTable()
//	tbl.RegisterPackage("mypkg", "./mypkg")
//	tbl.Register("mypkg.models.IFoo", IFoo)
//	tbl.Register("mypkg.FooAdapter", NewFooAdapter,
//	    symbol.Adapts(IFoo), symbol.Implements(IAdapter))
//
// Names are resolved at configuration-load time. Relative names (".models",
// "..other") are resolved against the package of the file being loaded.
// Unresolvable names fail with a configuration error.
package symbol

import (
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/component"
)

// Symbol is a registered value with its component metadata.
type Symbol struct {
	Name  string
	Value any

	// Adapts lists the specs a factory adapts, used when a directive omits
	// its "for" attribute.
	Adapts []component.Spec

	// Implements lists the interfaces objects created by a factory provide,
	// used when a directive omits "provides".
	Implements []*component.Interface

	// Provides lists interfaces the value itself provides, in addition to
	// those it declares through component.Provider.
	Provides []*component.Interface
}

// String returns the dotted name.
func (s *Symbol) String() string { return s.Name }

// Spec converts an interface or type symbol to a component spec.
func (s *Symbol) Spec() (component.Spec, error) {
	switch v := s.Value.(type) {
	case *component.Interface:
		return v, nil
	case component.TypeSpec:
		return v, nil
	case reflect.Type:
		return component.SpecFor(v), nil
	}
	return nil, action.Errorf("%s is not an interface or type (got %T)", s.Name, s.Value)
}

// Interface returns the symbol's value as an interface.
func (s *Symbol) Interface() (*component.Interface, error) {
	if iface, ok := s.Value.(*component.Interface); ok {
		return iface, nil
	}
	return nil, action.Errorf("%s is not an interface (got %T)", s.Name, s.Value)
}

// Option configures a symbol at registration.
type Option func(*Symbol)

// Adapts records the specs a factory adapts.
func Adapts(specs ...component.Spec) Option {
	return func(s *Symbol) { s.Adapts = specs }
}

// Implements records the interfaces a factory's products provide.
func Implements(ifaces ...*component.Interface) Option {
	return func(s *Symbol) { s.Implements = ifaces }
}

// Provides records interfaces the registered value itself provides.
func Provides(ifaces ...*component.Interface) Option {
	return func(s *Symbol) { s.Provides = ifaces }
}

// ProvidedInterfaces returns the interfaces the value provides: those it
// declares plus those recorded at registration, each once.
func (s *Symbol) ProvidedInterfaces() []*component.Interface {
	var out []*component.Interface
	for _, iface := range slices.Concat(component.DeclaredBy(s.Value), s.Provides) {
		if !slices.Contains(out, iface) {
			out = append(out, iface)
		}
	}
	return out
}

// Package is a named directory of configuration files and assets.
type Package struct {
	Name string
	Dir  string
}

// String returns the package name.
func (p *Package) String() string { return p.Name }

// Attachment is a callback attached to a package for discovery by scan.
type Attachment struct {
	Package  string
	Category string
	Name     string
	Callback any
}

// Table is a registry of symbols and packages. Safe for concurrent use.
type Table struct {
	mu          sync.RWMutex
	symbols     map[string]*Symbol
	packages    map[string]*Package
	attachments []Attachment
}

// Default is the table populated by package init functions.
var Default = NewTable()

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		symbols:  make(map[string]*Symbol),
		packages: make(map[string]*Package),
	}
}

// Register stores value under a dotted name, replacing any previous value.
func (t *Table) Register(name string, value any, opts ...Option) *Symbol {
	name = normalize(name)
	sym := &Symbol{Name: name, Value: value}
	for _, opt := range opts {
		opt(sym)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.symbols[name] = sym
	return sym
}

// RegisterPackage declares a package rooted at dir.
func (t *Table) RegisterPackage(name, dir string) *Package {
	pkg := &Package{Name: name, Dir: dir}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.packages[name] = pkg
	t.symbols[name] = &Symbol{Name: name, Value: pkg}
	return pkg
}

// Package returns the package registered under name.
func (t *Table) Package(name string) (*Package, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pkg, ok := t.packages[name]
	return pkg, ok
}

// Packages returns all registered packages sorted by name.
func (t *Table) Packages() []*Package {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Package, 0, len(t.packages))
	for _, p := range t.packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the symbol registered under an absolute dotted name.
func (t *Table) Lookup(name string) (*Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sym, ok := t.symbols[normalize(name)]
	return sym, ok
}

// Resolve resolves a possibly relative dotted name against the package pkg.
func (t *Table) Resolve(name, pkg string) (*Symbol, error) {
	abs, err := Absolute(name, pkg)
	if err != nil {
		return nil, err
	}
	sym, ok := t.Lookup(abs)
	if !ok {
		return nil, action.Errorf("cannot resolve %q: no symbol registered as %q", name, abs)
	}
	return sym, nil
}

// ResolvePackage resolves name to a registered package.
func (t *Table) ResolvePackage(name, pkg string) (*Package, error) {
	sym, err := t.Resolve(name, pkg)
	if err != nil {
		return nil, err
	}
	p, ok := sym.Value.(*Package)
	if !ok {
		return nil, action.Errorf("%s is not a package", sym.Name)
	}
	return p, nil
}

// Attach registers a callback for discovery when pkg (or a parent package)
// is scanned.
func (t *Table) Attach(pkg, category, name string, callback any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attachments = append(t.attachments, Attachment{
		Package:  pkg,
		Category: category,
		Name:     name,
		Callback: callback,
	})
}

// Callbacks returns the callbacks attached to pkg or its subpackages, in
// attachment order, filtered by category when categories is non-empty.
func (t *Table) Callbacks(pkg string, categories ...string) []Attachment {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Attachment
	for _, a := range t.attachments {
		if a.Package != pkg && !strings.HasPrefix(a.Package, pkg+".") {
			continue
		}
		if len(categories) > 0 && !contains(categories, a.Category) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Absolute turns a relative dotted name into an absolute one. A leading dot
// refers to pkg itself; every further dot moves one package up.
func Absolute(name, pkg string) (string, error) {
	name = normalize(strings.TrimSpace(name))
	if name == "" {
		return "", action.Errorf("empty dotted name")
	}
	if !strings.HasPrefix(name, ".") {
		return name, nil
	}
	if pkg == "" {
		return "", action.Errorf("cannot resolve relative name %q without a package", name)
	}

	rest := strings.TrimLeft(name, ".")
	ups := len(name) - len(rest) - 1
	parts := strings.Split(pkg, ".")
	if ups >= len(parts) {
		return "", action.Errorf("relative name %q goes above the top-level package of %q", name, pkg)
	}
	base := strings.Join(parts[:len(parts)-ups], ".")
	if rest == "" {
		return base, nil
	}
	return base + "." + rest, nil
}

// normalize accepts the "package:attribute" spelling.
func normalize(name string) string {
	return strings.Replace(name, ":", ".", 1)
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
