// Package component provides the interface-keyed component registry that the
// configurator registers into: adapters, utilities, and subscribers looked up
// by the interfaces (or Go types) an object provides.
//
// An Interface is a named marker that may extend other interfaces. Objects
// announce the interfaces they provide by implementing Provider. Go types can
// also be used directly as lookup keys via TypeSpec.
package component

import (
	"errors"
	"fmt"
	"reflect"
)

// Spec is anything a registration can be keyed on: an *Interface or a Go type
// wrapped by TypeSpec.
type Spec interface {
	fmt.Stringer

	// DiscriminatorKey identifies the spec in conflict discriminators.
	DiscriminatorKey() string

	// ResolutionOrder lists the spec followed by everything it extends,
	// most specific first. Object is always last.
	ResolutionOrder() []Spec
}

// Interface is a named contract. Interfaces form a hierarchy through their
// bases; every interface ultimately extends Object.
type Interface struct {
	name  string
	bases []*Interface
}

// Object is the root interface provided by every object.
var Object = &Interface{name: "Interface"}

// NewInterface creates an interface extending bases. An interface without
// explicit bases extends Object.
func NewInterface(name string, bases ...*Interface) *Interface {
	if len(bases) == 0 {
		bases = []*Interface{Object}
	}
	return &Interface{name: name, bases: bases}
}

// Name returns the interface name.
func (i *Interface) Name() string { return i.name }

// Bases returns the interfaces this interface directly extends.
func (i *Interface) Bases() []*Interface { return i.bases }

// String returns the interface name.
func (i *Interface) String() string {
	if i == nil {
		return "None"
	}
	return i.name
}

// DiscriminatorKey identifies the interface by name and identity.
func (i *Interface) DiscriminatorKey() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("iface:%s@%p", i.name, i)
}

// ResolutionOrder returns the interface followed by its bases, depth first,
// without duplicates, Object last.
func (i *Interface) ResolutionOrder() []Spec {
	var out []Spec
	seen := make(map[*Interface]bool)
	var walk func(*Interface)
	walk = func(x *Interface) {
		if x == Object || seen[x] {
			return
		}
		seen[x] = true
		out = append(out, x)
		for _, b := range x.bases {
			walk(b)
		}
	}
	walk(i)
	return append(out, Object)
}

// IsOrExtends reports whether i is other or extends it.
func (i *Interface) IsOrExtends(other *Interface) bool {
	if other == Object || i == other {
		return true
	}
	for _, b := range i.bases {
		if b.IsOrExtends(other) {
			return true
		}
	}
	return false
}

// Extends reports whether i strictly extends other.
func (i *Interface) Extends(other *Interface) bool {
	return i != other && i.IsOrExtends(other)
}

// TypeSpec is a Go type used as a registration key.
type TypeSpec struct {
	t reflect.Type
}

// SpecFor wraps a Go type.
func SpecFor(t reflect.Type) TypeSpec {
	return TypeSpec{t: t}
}

// TypeOf returns the type spec of v's dynamic type.
func TypeOf(v any) TypeSpec {
	return TypeSpec{t: reflect.TypeOf(v)}
}

// Type returns the wrapped Go type.
func (s TypeSpec) Type() reflect.Type { return s.t }

// String returns the Go type name.
func (s TypeSpec) String() string {
	if s.t == nil {
		return "<nil>"
	}
	return s.t.String()
}

// DiscriminatorKey identifies the type by package path and name.
func (s TypeSpec) DiscriminatorKey() string {
	if s.t == nil {
		return "type:<nil>"
	}
	return "type:" + s.t.PkgPath() + "." + s.t.String()
}

// ResolutionOrder returns the type spec followed by Object.
func (s TypeSpec) ResolutionOrder() []Spec {
	return []Spec{s, Object}
}

// Provider is implemented by objects that declare the interfaces they
// provide.
type Provider interface {
	ProvidedInterfaces() []*Interface
}

// DeclaredBy returns the interfaces obj declares through Provider.
func DeclaredBy(obj any) []*Interface {
	if p, ok := obj.(Provider); ok && !isNilPointer(obj) {
		return p.ProvidedInterfaces()
	}
	return nil
}

// ProvidedBy returns the resolution order of everything obj provides: its Go
// type, the interfaces it declares and their bases, then, for errors, the
// specs of wrapped errors. Object is always last.
func ProvidedBy(obj any) []Spec {
	if obj == nil {
		return []Spec{Object}
	}

	var out []Spec
	seen := make(map[string]bool)
	add := func(s Spec) {
		k := s.DiscriminatorKey()
		if s == Spec(Object) || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, s)
	}

	var visit func(any)
	visit = func(o any) {
		add(TypeOf(o))
		for _, iface := range DeclaredBy(o) {
			for _, s := range iface.ResolutionOrder() {
				add(s)
			}
		}
		if err, ok := o.(error); ok {
			if inner := errors.Unwrap(err); inner != nil {
				visit(inner)
			}
		}
	}
	visit(obj)

	return append(out, Object)
}

// Provides reports whether obj provides spec.
func Provides(obj any, spec Spec) bool {
	if spec == nil || spec == Spec(Object) {
		return true
	}
	key := spec.DiscriminatorKey()
	for _, s := range ProvidedBy(obj) {
		if s.DiscriminatorKey() == key {
			return true
		}
	}
	return false
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
