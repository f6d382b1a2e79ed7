package web

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/asset"
	"github.com/Pylons/pyramid-zcml/core/security"
	"github.com/Pylons/pyramid-zcml/domain/route"
)

// RouteOptions are the optional arguments of AddRoute. The View* fields
// register a view scoped to the route.
type RouteOptions struct {
	Factory          any
	Header           string
	XHR              bool
	Accept           string
	PathInfo         string
	RequestMethod    string
	RequestParam     string
	CustomPredicates []CustomPredicate
	UseGlobalViews   bool
	Traverse         string

	View           any
	ViewContext    any
	ViewPermission string
	ViewRenderer   string
	ViewAttr       string
}

// AddRoute registers a named route. The route's request interface exists
// as soon as AddRoute returns, so views naming the route resolve at
// commit regardless of action order.
func (c *Configurator) AddRoute(name, pattern string, opts RouteOptions) error {
	if name == "" {
		return c.locate(action.Errorf("route name is required"))
	}
	if pattern == "" {
		return c.locate(action.Errorf(`route %q: "pattern" is required`, name))
	}
	pattern = route.JoinPrefix(c.RoutePrefix, pattern)

	compiled, err := route.Compile(pattern)
	if err != nil {
		return c.locate(action.Errorf("%s", err))
	}
	var traverse *route.Pattern
	if opts.Traverse != "" {
		if traverse, err = route.Compile(opts.Traverse); err != nil {
			return c.locate(action.Errorf("traverse: %s", err))
		}
	}

	factory, err := c.rootFactory(opts.Factory)
	if err != nil {
		return err
	}

	preds, err := BuildPredicates(PredicateOptions{
		XHR:              opts.XHR,
		RequestMethod:    opts.RequestMethod,
		PathInfo:         opts.PathInfo,
		RequestParam:     opts.RequestParam,
		Header:           opts.Header,
		Accept:           opts.Accept,
		CustomPredicates: opts.CustomPredicates,
	})
	if err != nil {
		return c.locate(err)
	}

	iface := c.Registry.RouteRequestIface(name, opts.UseGlobalViews)

	if opts.View != nil {
		err := c.AddView(ViewOptions{
			View:       opts.View,
			Context:    opts.ViewContext,
			Permission: opts.ViewPermission,
			Renderer:   opts.ViewRenderer,
			Attr:       opts.ViewAttr,
			RouteName:  name,
		})
		if err != nil {
			return err
		}
	}

	rt := &Route{
		Name:           name,
		Pattern:        compiled,
		Factory:        factory,
		Predicates:     preds,
		Iface:          iface,
		UseGlobalViews: opts.UseGlobalViews,
		Traverse:       traverse,
	}
	discriminator := action.Key("route", name)
	return c.Action(action.Action{
		Discriminator: discriminator,
		Callable: func([]any, map[string]any) error {
			c.Registry.Routes.Connect(rt)
			return nil
		},
		Introspectables: []action.Introspectable{{
			Category:      "routes",
			Discriminator: discriminator.String(),
			Title:         fmt.Sprintf("route %q", name),
			TypeName:      "route",
			Data: map[string]any{
				"name":             name,
				"pattern":          pattern,
				"predicates":       len(preds),
				"use_global_views": opts.UseGlobalViews,
			},
		}},
	})
}

func (c *Configurator) rootFactory(v any) (RootFactory, error) {
	v, err := c.MaybeDotted(v)
	if err != nil {
		return nil, err
	}
	switch f := v.(type) {
	case nil:
		return nil, nil
	case RootFactory:
		return f, nil
	case func(*Request) any:
		return f, nil
	}
	return nil, c.locate(action.Errorf("root factory has unsupported type %T", v))
}

// StaticOptions are the optional arguments of AddStaticView.
type StaticOptions struct {
	// CacheMaxAge in seconds. Nil means DefaultCacheMaxAge; a negative
	// value disables the Cache-Control header.
	CacheMaxAge *int
	Permission  string
}

// DefaultCacheMaxAge is the Cache-Control max-age of static views.
const DefaultCacheMaxAge = 3600

// StaticInfo describes a static view, registered as an IStaticURLInfo
// utility under the view name.
type StaticInfo struct {
	Name        string
	Spec        string
	CacheMaxAge int
}

// AddStaticView serves the directory spec under the URL prefix name.
func (c *Configurator) AddStaticView(name, spec string, opts StaticOptions) error {
	name = strings.Trim(name, "/")
	if name == "" {
		return c.locate(action.Errorf("static view name is required"))
	}
	if spec == "" {
		return c.locate(action.Errorf("static view %q: path is required", name))
	}
	if !asset.IsSpec(spec) && !filepath.IsAbs(spec) && c.PackageName() != "" {
		spec = asset.Join(c.PackageName(), spec)
	}
	maxAge := DefaultCacheMaxAge
	if opts.CacheMaxAge != nil {
		maxAge = *opts.CacheMaxAge
	}
	permission := opts.Permission
	if permission == "" {
		permission = security.NoPermissionRequired
	}

	info := StaticInfo{Name: name, Spec: spec, CacheMaxAge: maxAge}
	err := c.Action(action.Action{
		Discriminator: action.Key(IStaticURLInfo, name),
		Callable: func([]any, map[string]any) error {
			return c.Registry.RegisterUtility(info, IStaticURLInfo, name, "", nil)
		},
	})
	if err != nil {
		return err
	}

	return c.AddRoute("__"+name, name+"/*subpath", RouteOptions{
		View:           staticView(c.Registry.Assets, spec, c.PackageName(), maxAge),
		ViewPermission: permission,
	})
}

func staticView(assets *asset.Resolver, spec, pkg string, maxAge int) RequestViewFunc {
	return func(req *Request) (any, error) {
		fsys, err := assets.FS(spec, pkg)
		if err != nil {
			return nil, NotFound(req.URL.Path)
		}

		name := path.Clean("/" + req.MatchDict["subpath"])[1:]
		if name == "" {
			name = "."
		}
		if st, err := fs.Stat(fsys, name); err == nil && st.IsDir() {
			name = path.Join(name, "index.html")
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
				return nil, NotFound(req.URL.Path)
			}
			return nil, err
		}

		ctype := mime.TypeByExtension(path.Ext(name))
		if ctype == "" {
			ctype = http.DetectContentType(body)
		}
		resp := NewResponse(http.StatusOK, ctype, body)
		if maxAge >= 0 {
			resp.Header.Set("Cache-Control", "max-age="+strconv.Itoa(maxAge))
		}
		return resp, nil
	}
}

// StaticURL returns the path of a file served by the static view name.
func (r *Request) StaticURL(name, file string) (string, error) {
	return r.RouteURL("__"+strings.Trim(name, "/"), map[string]string{"subpath": file})
}
