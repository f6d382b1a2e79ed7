// Package render turns the values returned by views into response bodies.
//
// A renderer name is either a factory name ("json", "string", "yaml") or a
// template path whose extension selects the factory ("templates/home.html").
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Pylons/pyramid-zcml/core/asset"
)

// Info describes the renderer a view asked for.
type Info struct {
	// Name as written in configuration.
	Name string

	// Package the name is relative to.
	Package string

	// Settings of the application.
	Settings map[string]any

	// Assets resolves template paths.
	Assets *asset.Resolver
}

// System carries the request-level values available to renderers.
type System struct {
	View         string
	RendererName string
	Context      any
	Request      *http.Request
}

// Renderer renders one value.
type Renderer interface {
	Render(value any, sys System) ([]byte, error)
	ContentType() string
}

// Factory creates a renderer for a configured name.
type Factory func(info Info) (Renderer, error)

// FactoryName returns the factory a renderer name is served by: its
// extension for paths, otherwise the name itself.
func FactoryName(name string) string {
	_, p := asset.Split(name)
	if ext := path.Ext(p); ext != "" {
		return ext
	}
	return name
}

// Builtins returns the renderer factories registered by default.
func Builtins() map[string]Factory {
	return map[string]Factory{
		"json":   JSONFactory,
		"string": StringFactory,
		"yaml":   YAMLFactory,
		".html":  TemplateFactory,
		".tmpl":  TemplateFactory,
	}
}

// RendererFunc adapts a function to Renderer.
type RendererFunc struct {
	Type string
	Fn   func(value any, sys System) ([]byte, error)
}

func (r RendererFunc) Render(value any, sys System) ([]byte, error) { return r.Fn(value, sys) }
func (r RendererFunc) ContentType() string { return r.Type }

// JSONFactory renders values as JSON.
func JSONFactory(Info) (Renderer, error) {
	return RendererFunc{Type: "application/json", Fn: func(value any, _ System) ([]byte, error) {
		return json.Marshal(value)
	}}, nil
}

// StringFactory renders values with fmt.Sprint.
func StringFactory(Info) (Renderer, error) {
	return RendererFunc{Type: "text/plain; charset=utf-8", Fn: func(value any, _ System) ([]byte, error) {
		if b, ok := value.([]byte); ok {
			return b, nil
		}
		return []byte(fmt.Sprint(value)), nil
	}}, nil
}

// YAMLFactory renders values as YAML.
func YAMLFactory(Info) (Renderer, error) {
	return RendererFunc{Type: "application/x-yaml", Fn: func(value any, _ System) ([]byte, error) {
		return yaml.Marshal(value)
	}}, nil
}

// TemplateFactory parses the named html/template. The template is read
// through the asset resolver, so asset overrides apply.
func TemplateFactory(info Info) (Renderer, error) {
	if info.Assets == nil {
		return nil, fmt.Errorf("template renderer %q: no asset resolver", info.Name)
	}
	src, err := info.Assets.ReadFile(info.Name, info.Package)
	if err != nil {
		return nil, fmt.Errorf("template renderer %q: %w", info.Name, err)
	}
	tmpl, err := template.New(path.Base(info.Name)).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("template renderer %q: %w", info.Name, err)
	}
	return &templateRenderer{tmpl: tmpl}, nil
}

type templateRenderer struct {
	tmpl *template.Template
}

func (t *templateRenderer) ContentType() string { return "text/html; charset=utf-8" }

// Render executes the template. Map values gain "request", "context" and
// "view" entries unless already present.
func (t *templateRenderer) Render(value any, sys System) ([]byte, error) {
	data := value
	if m, ok := value.(map[string]any); ok {
		merged := make(map[string]any, len(m)+3)
		merged["request"] = sys.Request
		merged["context"] = sys.Context
		merged["view"] = sys.View
		for k, v := range m {
			merged[k] = v
		}
		data = merged
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsTemplate reports whether name refers to a template file.
func IsTemplate(name string) bool {
	return strings.HasPrefix(FactoryName(name), ".")
}
