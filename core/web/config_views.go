package web

import (
	"fmt"
	"reflect"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/component"
	"github.com/Pylons/pyramid-zcml/core/render"
	"github.com/Pylons/pyramid-zcml/core/security"
)

// ViewOptions are the arguments of AddView. Spec-valued fields accept a
// component.Spec or a dotted name; View accepts a callable or a dotted
// name.
type ViewOptions struct {
	View             any
	Name             string
	Context          any
	Permission       string
	RequestType      any
	RouteName        string
	RequestMethod    string
	RequestParam     string
	Containment      any
	Attr             string
	Renderer         string
	Wrapper          string
	XHR              bool
	Accept           string
	Header           string
	PathInfo         string
	CustomPredicates []CustomPredicate
	Decorator        Decorator
	Mapper           ViewMapper
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// isExceptionSpec reports whether views for spec are exception views.
func isExceptionSpec(spec component.Spec) bool {
	switch s := spec.(type) {
	case *component.Interface:
		return s.IsOrExtends(IException)
	case component.TypeSpec:
		return s.Type() != nil && s.Type().Implements(errorType)
	}
	return false
}

func emptyView(any, *Request) (any, error) {
	return map[string]any{}, nil
}

// AddView registers a view. Predicate and spec arguments are checked now;
// the view itself is derived and registered when the action executes.
func (c *Configurator) AddView(opts ViewOptions) error {
	view, err := c.MaybeDotted(opts.View)
	if err != nil {
		return err
	}
	if view == nil {
		if opts.Renderer == "" {
			return c.locate(action.Errorf(`"view" was not specified and no "renderer" specified`))
		}
		view = ViewFunc(emptyView)
	}

	ctx, err := c.ResolveSpec(opts.Context)
	if err != nil {
		return err
	}
	requestType, err := c.ResolveSpec(opts.RequestType)
	if err != nil {
		return err
	}
	containment, err := c.ResolveSpec(opts.Containment)
	if err != nil {
		return err
	}

	popts := PredicateOptions{
		XHR:              opts.XHR,
		RequestMethod:    opts.RequestMethod,
		PathInfo:         opts.PathInfo,
		RequestParam:     opts.RequestParam,
		Header:           opts.Header,
		Accept:           opts.Accept,
		Containment:      containment,
		CustomPredicates: opts.CustomPredicates,
	}
	// Without a route the request type selects the registration key;
	// with one it narrows the route's requests.
	if opts.RouteName != "" {
		popts.RequestType = requestType
	}
	preds, err := BuildPredicates(popts)
	if err != nil {
		return c.locate(err)
	}

	info := c.Info
	pkg := c.PackageName()
	name := opts.Name
	discriminator := action.Key("view", ctx, name, requestType, IView, containment,
		opts.RequestParam, opts.RequestMethod, opts.RouteName, opts.Attr, opts.XHR,
		opts.Accept, opts.Header, opts.PathInfo, opts.CustomPredicates)

	register := func([]any, map[string]any) error {
		permission := opts.Permission
		if permission == "" {
			if p, ok := c.Registry.QueryUtility(IDefaultPermission, ""); ok {
				permission, _ = p.(string)
			}
		}

		renderer, err := c.Registry.Renderer(opts.Renderer, pkg)
		if err != nil {
			return err
		}

		dv, err := c.Registry.deriveView(deriveOptions{
			View:       view,
			Attr:       opts.Attr,
			Name:       name,
			Permission: permission,
			Renderer:   renderer,
			RendererNm: opts.Renderer,
			Wrapper:    opts.Wrapper,
			Decorator:  opts.Decorator,
			Mapper:     opts.Mapper,
			Predicates: preds,
			Info:       info,
		})
		if err != nil {
			return err
		}

		var reqIface component.Spec = IRequest
		switch {
		case opts.RouteName != "":
			iface, ok := c.Registry.LookupRouteRequestIface(opts.RouteName)
			if !ok {
				return action.Errorf("no route named %s found for view registration", opts.RouteName)
			}
			reqIface = iface
		case requestType != nil:
			reqIface = requestType
		}

		context := ctx
		if context == nil {
			context = component.Object
		}

		if err := c.Registry.registerView(IViewClassifier, reqIface, context, dv); err != nil {
			return err
		}
		if isExceptionSpec(context) {
			return c.Registry.registerView(IExceptionViewClassifier, reqIface, context, dv)
		}
		return nil
	}

	return c.Action(action.Action{
		Discriminator: discriminator,
		Callable:      register,
		Introspectables: []action.Introspectable{{
			Category:      "views",
			Discriminator: discriminator.String(),
			Title:         fmt.Sprintf("view %q", name),
			TypeName:      fmt.Sprintf("%T", view),
			Data: map[string]any{
				"name":       name,
				"context":    fmt.Sprint(ctx),
				"route_name": opts.RouteName,
				"renderer":   opts.Renderer,
				"permission": opts.Permission,
				"predicates": len(preds),
			},
		}},
	})
}

func (r *Registry) registerView(classifier *component.Interface, reqIface, context component.Spec, dv *DerivedView) error {
	required := []component.Spec{classifier, reqIface, context}

	var old any
	for _, provided := range []*component.Interface{IMultiView, ISecuredView, IView} {
		if v, ok := r.Registered(required, provided, dv.Name); ok {
			old = v
			break
		}
	}

	switch o := old.(type) {
	case *MultiView:
		o.Add(dv)
		r.Logger.Debug().Str("view", dv.Name).Int("views", len(o.Views())).Msg("view added to multiview")
		return nil
	case *DerivedView:
		mv := NewMultiView(dv.Name)
		mv.Add(o)
		mv.Add(dv)
		return r.Register(required, IMultiView, dv.Name, mv, dv.Info)
	}

	provided := IView
	if dv.Permission != "" && dv.Permission != security.NoPermissionRequired {
		provided = ISecuredView
	}
	return r.Register(required, provided, dv.Name, dv, dv.Info)
}

// LookupView finds the view named name for the request and context.
func (r *Registry) LookupView(context any, req *Request, name string) (ViewCallable, bool) {
	return r.lookupView(IViewClassifier, component.ProvidedBy(req), component.ProvidedBy(context), name)
}

// LookupExceptionView finds the exception view for err. Every error
// provides IException, and global exception views apply to route requests
// too.
func (r *Registry) LookupExceptionView(err error, req *Request) (ViewCallable, bool) {
	return r.lookupView(IExceptionViewClassifier,
		withBefore(component.ProvidedBy(req), IRequest),
		withBefore(component.ProvidedBy(err), IException), "")
}

// withBefore inserts iface before Object unless specs already contain it.
func withBefore(specs []component.Spec, iface *component.Interface) []component.Spec {
	for _, s := range specs {
		if s == component.Spec(iface) {
			return specs
		}
	}
	n := len(specs) - 1
	return append(specs[:n:n], iface, component.Object)
}

func (r *Registry) lookupView(classifier *component.Interface, reqSpecs, contextSpecs []component.Spec, name string) (ViewCallable, bool) {
	orders := [][]component.Spec{
		classifier.ResolutionOrder(),
		reqSpecs,
		contextSpecs,
	}
	v, ok := r.LookupOrders(orders, IView, name)
	if !ok {
		return nil, false
	}
	vc, ok := v.(ViewCallable)
	return vc, ok
}

// Renderer creates the renderer for name. An empty name gives the default
// renderer registered under the empty name, or nil.
func (r *Registry) Renderer(name, pkg string) (render.Renderer, error) {
	factoryName := ""
	if name != "" {
		factoryName = render.FactoryName(name)
	}

	var factory render.Factory
	if v, ok := r.QueryUtility(IRendererFactory, factoryName); ok {
		factory, _ = v.(render.Factory)
	}
	if factory == nil && name != "" {
		factory = render.Builtins()[factoryName]
	}
	if factory == nil {
		if name == "" {
			return nil, nil
		}
		return nil, action.Errorf("no renderer factory for %q", name)
	}

	return factory(render.Info{
		Name:     name,
		Package:  pkg,
		Settings: r.Settings,
		Assets:   r.Assets,
	})
}

// SetNotFoundView registers the view called when no view is found.
func (c *Configurator) SetNotFoundView(view any, attr, renderer, wrapper string) error {
	return c.AddView(ViewOptions{
		View:       view,
		Context:    INotFound,
		Attr:       attr,
		Renderer:   renderer,
		Wrapper:    wrapper,
		Permission: security.NoPermissionRequired,
	})
}

// SetForbiddenView registers the view called when permission is denied.
func (c *Configurator) SetForbiddenView(view any, attr, renderer, wrapper string) error {
	return c.AddView(ViewOptions{
		View:       view,
		Context:    IForbidden,
		Attr:       attr,
		Renderer:   renderer,
		Wrapper:    wrapper,
		Permission: security.NoPermissionRequired,
	})
}
