// Package zcml loads declarative XML configuration into a web.Configurator.
//
// A configuration file is a tree of directive elements:
//
//	<configure xmlns="http://pylonshq.com/pyramid">
//	  <include package=".views"/>
//	  <view view=".views.home" for=".models.IRoot" renderer="json"/>
//	  <route name="item" pattern="/items/{id}" view=".views.item"/>
//	  <utility component=".cache" provides=".interfaces.ICache"/>
//	</configure>
//
// Each element is checked against its Schema and handed to the schema's
// Handler, which records deferred actions. Nothing is registered while the
// file is parsed, except by eager directives (security policies, default
// permission, renderers, locale negotiator). The recorded actions are
// merged into the caller's configuration and run at its next commit.
package zcml

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Pylons/pyramid-zcml/core/action"
)

// Grouping elements handled by the machine itself.
const (
	elemConfigure        = "configure"
	elemInclude          = "include"
	elemIncludeOverrides = "includeOverrides"
)

// Machine parses configuration files and dispatches their elements to
// directive handlers.
type Machine struct {
	// Lock serialises parsing. Nil means the package-wide lock shared by
	// LoadZCML.
	Lock sync.Locker

	mu      sync.RWMutex
	schemas map[string]*Schema
	logger  zerolog.Logger
}

// NewMachine creates a machine knowing the built-in directives.
func NewMachine(logger zerolog.Logger) *Machine {
	m := &Machine{
		schemas: make(map[string]*Schema),
		logger:  logger,
	}
	for _, s := range Directives() {
		m.schemas[s.Name] = s
	}
	return m
}

// Register adds or replaces a directive.
func (m *Machine) Register(s *Schema) error {
	if s == nil || s.Name == "" || s.Handler == nil {
		return fmt.Errorf("register directive: name and handler are required")
	}
	switch s.Name {
	case elemConfigure, elemInclude, elemIncludeOverrides:
		return fmt.Errorf("register directive: %q is reserved", s.Name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[s.Name] = s
	return nil
}

// Schema returns the directive registered under name.
func (m *Machine) Schema(name string) (*Schema, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schemas[name]
	return s, ok
}

// Names returns the registered directive names, sorted.
func (m *Machine) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.schemas))
	for n := range m.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ProcessFile processes the file at path as an include of ctx: the file is
// appended to the include path of the actions it records. A file already
// processed in this load is skipped.
func (m *Machine) ProcessFile(ctx *Context, path string) error {
	return m.processFile(ctx, path, false)
}

func (m *Machine) processFile(ctx *Context, path string, overrides bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if ctx.seen[abs] {
		m.logger.Debug().Str("file", abs).Msg("already included, skipping")
		return nil
	}
	ctx.seen[abs] = true

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("open configuration file: %w", err)
	}
	defer f.Close()

	sub := ctx.child()
	sub.BasePath = filepath.Dir(abs)
	if !overrides {
		sub.IncludePath = append(sub.IncludePath, abs)
	}
	m.logger.Debug().Str("file", abs).Bool("overrides", overrides).Msg("processing configuration file")
	return m.Process(sub, f, abs)
}

// Process processes a configuration document read from r. filename is
// used in directive infos.
func (m *Machine) Process(ctx *Context, r io.Reader, filename string) error {
	dec := xml.NewDecoder(r)
	root := false
	for {
		line, col := dec.InputPos()
		tok, err := dec.Token()
		if err == io.EOF {
			if !root {
				return action.Errorf("%s: no <configure> element", filename)
			}
			return nil
		}
		if err != nil {
			return action.Errorf("%s: %s", filename, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if root || se.Name.Local != elemConfigure {
			return action.Errorf("%s: the document element must be a single <configure>, found <%s> at line %d.%d",
				filename, se.Name.Local, line, col)
		}
		root = true
		if err := m.element(ctx, dec, se, filename, line, col); err != nil {
			return err
		}
	}
}

// element processes se and everything up to its end tag. line and col
// locate the start of the tag.
func (m *Machine) element(ctx *Context, dec *xml.Decoder, se xml.StartElement, filename string, line, col int) error {
	ctx = ctx.child()
	ctx.Info = fmt.Sprintf("File %q, line %d.%d, <%s>", filename, line, col, se.Name.Local)
	attrs := attributes(se)

	switch se.Name.Local {
	case elemConfigure:
		if err := m.configure(ctx, attrs); err != nil {
			return ctx.locate(err)
		}
		return m.children(ctx, dec, filename)

	case elemInclude, elemIncludeOverrides:
		if err := noChildren(dec, se); err != nil {
			return ctx.locate(err)
		}
		return ctx.locate(m.include(ctx, attrs, se.Name.Local == elemIncludeOverrides))
	}

	schema, ok := m.Schema(se.Name.Local)
	if !ok {
		return ctx.Errorf("unknown directive <%s>", se.Name.Local)
	}
	if err := noChildren(dec, se); err != nil {
		return ctx.locate(err)
	}
	args, err := schema.Parse(ctx, attrs)
	if err != nil {
		return ctx.locate(err)
	}
	if schema.Eager {
		ctx.eager = true
	}
	if err := schema.Handler(ctx, args); err != nil {
		return ctx.locate(err)
	}

	ctx.Metrics.DirectiveProcessed(schema.Name)
	m.logger.Debug().
		Str("directive", schema.Name).
		Bool("eager", schema.Eager).
		Str("info", ctx.Info).
		Msg("directive processed")
	return nil
}

// children processes nested elements until the enclosing end tag.
func (m *Machine) children(ctx *Context, dec *xml.Decoder, filename string) error {
	for {
		line, col := dec.InputPos()
		tok, err := dec.Token()
		if err != nil {
			return action.Errorf("%s: %s", filename, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := m.element(ctx, dec, t, filename, line, col); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

func (m *Machine) configure(ctx *Context, attrs map[string]string) error {
	for name := range attrs {
		if name != "package" && name != "i18n_domain" {
			return action.Errorf("unrecognized attribute for <configure>: %s", name)
		}
	}
	if name := attrs["package"]; name != "" {
		pkg, err := ctx.Registry.Symbols.ResolvePackage(name, ctx.PackageName())
		if err != nil {
			return err
		}
		ctx.Package = pkg
	}
	return nil
}

// include processes the files named by an include element. With
// overrides, the included actions take the include path of the including
// file, so they override actions of its other includes.
func (m *Machine) include(ctx *Context, attrs map[string]string, overrides bool) error {
	for name := range attrs {
		if name != "file" && name != "files" && name != "package" {
			return action.Errorf("unrecognized attribute for include: %s", name)
		}
	}
	file, files := attrs["file"], attrs["files"]
	if file != "" && files != "" {
		return action.Errorf(`"file" and "files" are mutually exclusive`)
	}

	sub := ctx.child()
	base := ctx.BasePath
	if name := attrs["package"]; name != "" {
		pkg, err := ctx.Registry.Symbols.ResolvePackage(name, ctx.PackageName())
		if err != nil {
			return err
		}
		sub.Package = pkg
		base = pkg.Dir
	}

	var paths []string
	switch {
	case files != "":
		matches, err := filepath.Glob(filepath.Join(base, files))
		if err != nil {
			return action.Errorf("bad files pattern %q: %s", files, err)
		}
		sort.Strings(matches)
		paths = matches
	default:
		if file == "" {
			file = "configure.zcml"
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(base, file)
		}
		paths = []string{file}
	}

	for _, p := range paths {
		if err := m.processFile(sub, p, overrides); err != nil {
			return err
		}
	}
	return nil
}

// attributes returns the attributes of se by local name. Namespace
// declarations and namespaced attributes are dropped.
func attributes(se xml.StartElement) map[string]string {
	attrs := make(map[string]string, len(se.Attr))
	for _, a := range se.Attr {
		if a.Name.Space != "" || a.Name.Local == "xmlns" {
			continue
		}
		attrs[a.Name.Local] = a.Value
	}
	return attrs
}

// noChildren consumes the content of a simple directive, which must not
// contain elements.
func noChildren(dec *xml.Decoder, se xml.StartElement) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return action.Errorf("<%s>: %s", se.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return action.Errorf("<%s> does not accept nested elements (found <%s>)", se.Name.Local, t.Name.Local)
		case xml.EndElement:
			return nil
		}
	}
}
