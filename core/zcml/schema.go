package zcml

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/component"
	"github.com/Pylons/pyramid-zcml/core/symbol"
)

// FieldKind is the type of a directive attribute.
type FieldKind string

const (
	// Text is a single line of text.
	Text FieldKind = "text"

	// Bool accepts true/false, yes/no, on/off, t/f, y/n and 1/0.
	Bool FieldKind = "bool"

	// Int is a decimal integer.
	Int FieldKind = "int"

	// Object is a dotted name resolved through the symbol table.
	Object FieldKind = "object"

	// Interface is a dotted name that must resolve to an interface.
	Interface FieldKind = "interface"

	// Tokens is a whitespace separated list of dotted names.
	Tokens FieldKind = "tokens"
)

// Field declares one attribute of a directive.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool

	// Default is used when the attribute is absent. Nil leaves it unset.
	Default any
}

// Schema declares the attributes a directive element accepts and the
// handler that turns them into registrations.
type Schema struct {
	Name   string
	Fields []Field

	// Eager handlers register immediately while the file is parsed, so
	// registrations depending on them see them at commit.
	Eager bool

	Handler Handler
}

// Handler processes one parsed directive.
type Handler func(ctx *Context, args Args) error

// field returns the declaration of name.
func (s *Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Parse converts raw attribute values into typed arguments. Dotted names
// are resolved relative to the context's package.
func (s *Schema) Parse(ctx *Context, attrs map[string]string) (Args, error) {
	var unknown []string
	for name := range attrs {
		if _, ok := s.field(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Args{}, action.Errorf("unrecognized attributes for <%s>: %s", s.Name, strings.Join(unknown, ", "))
	}

	args := Args{directive: s.Name, values: make(map[string]any, len(s.Fields))}
	for _, f := range s.Fields {
		raw, ok := attrs[f.Name]
		if !ok {
			if f.Required {
				return Args{}, action.Errorf("<%s> is missing the required attribute %q", s.Name, f.Name)
			}
			if f.Default != nil {
				args.values[f.Name] = f.Default
			}
			continue
		}
		v, err := f.convert(ctx, raw)
		if err != nil {
			return Args{}, action.Errorf("<%s> attribute %q: %s", s.Name, f.Name, err)
		}
		args.values[f.Name] = v
	}
	return args, nil
}

func (f Field) convert(ctx *Context, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch f.Kind {
	case Text:
		return raw, nil
	case Bool:
		return parseBool(raw)
	case Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, action.Errorf("%q is not an integer", raw)
		}
		return n, nil
	case Object:
		return ctx.resolve(raw)
	case Interface:
		sym, err := ctx.resolve(raw)
		if err != nil {
			return nil, err
		}
		if _, err := sym.Interface(); err != nil {
			return nil, err
		}
		return sym, nil
	case Tokens:
		tokens := strings.Fields(raw)
		out := make([]*symbol.Symbol, 0, len(tokens))
		for _, t := range tokens {
			if t == "*" {
				out = append(out, &symbol.Symbol{Name: "*", Value: component.Object})
				continue
			}
			sym, err := ctx.resolve(t)
			if err != nil {
				return nil, err
			}
			out = append(out, sym)
		}
		return out, nil
	}
	return nil, action.Errorf("unknown field kind %q", f.Kind)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, action.Errorf("%q is not a boolean", raw)
}

// Args are the typed attribute values of one directive. Accessors return
// the zero value for absent attributes.
type Args struct {
	directive string
	values    map[string]any
}

// Has reports whether the attribute was given or has a default.
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

func (a Args) String(name string) string {
	s, _ := a.values[name].(string)
	return s
}

func (a Args) Bool(name string) bool {
	b, _ := a.values[name].(bool)
	return b
}

// Int returns an integer attribute and whether it was set.
func (a Args) Int(name string) (int, bool) {
	n, ok := a.values[name].(int)
	return n, ok
}

// Symbol returns a resolved Object or Interface attribute.
func (a Args) Symbol(name string) *symbol.Symbol {
	s, _ := a.values[name].(*symbol.Symbol)
	return s
}

// Value returns the value of a resolved Object attribute, or nil.
func (a Args) Value(name string) any {
	if s := a.Symbol(name); s != nil {
		return s.Value
	}
	return nil
}

// Interface returns a resolved Interface attribute.
func (a Args) Interface(name string) *component.Interface {
	if s := a.Symbol(name); s != nil {
		iface, _ := s.Value.(*component.Interface)
		return iface
	}
	return nil
}

// Symbols returns a resolved Tokens attribute. Nil means absent.
func (a Args) Symbols(name string) []*symbol.Symbol {
	s, _ := a.values[name].([]*symbol.Symbol)
	return s
}

// Spec returns an Object attribute as a component spec.
func (a Args) Spec(name string) (component.Spec, error) {
	s := a.Symbol(name)
	if s == nil {
		return nil, nil
	}
	return s.Spec()
}
