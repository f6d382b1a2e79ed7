package zcml

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/component"
	"github.com/Pylons/pyramid-zcml/core/security"
	"github.com/Pylons/pyramid-zcml/core/symbol"
	"github.com/Pylons/pyramid-zcml/core/web"
)

func view(ctx *Context, args Args) error {
	context, err := specOf(args, "context", "for")
	if err != nil {
		return err
	}
	requestType, err := args.Spec("request_type")
	if err != nil {
		return err
	}
	containment, err := args.Spec("containment")
	if err != nil {
		return err
	}
	preds, err := customPredicates(args.Symbols("custom_predicates"))
	if err != nil {
		return err
	}

	opts := web.ViewOptions{
		View:             args.Value("view"),
		Name:             args.String("name"),
		Permission:       args.String("permission"),
		RouteName:        args.String("route_name"),
		RequestMethod:    args.String("request_method"),
		RequestParam:     args.String("request_param"),
		Attr:             args.String("attr"),
		Renderer:         args.String("renderer"),
		Wrapper:          args.String("wrapper"),
		XHR:              args.Bool("xhr"),
		Accept:           args.String("accept"),
		Header:           args.String("header"),
		PathInfo:         args.String("path_info"),
		CustomPredicates: preds,
		Context:          context,
		RequestType:      requestType,
		Containment:      containment,
	}
	if sym := args.Symbol("decorator"); sym != nil {
		if opts.Decorator, err = decorator(sym); err != nil {
			return err
		}
	}
	if sym := args.Symbol("mapper"); sym != nil {
		m, ok := sym.Value.(web.ViewMapper)
		if !ok {
			return action.Errorf("%s is not a view mapper (got %T)", sym.Name, sym.Value)
		}
		opts.Mapper = m
	}
	return WithContext(ctx).AddView(opts)
}

func route(ctx *Context, args Args) error {
	name := args.String("name")
	pattern := args.String("pattern")
	if pattern == "" {
		pattern = args.String("path")
	}
	if pattern == "" {
		return action.Errorf(`route directive must include a "pattern"`)
	}

	viewContext, err := specOf(args, "view_context", "view_for", "for")
	if err != nil {
		return err
	}
	preds, err := customPredicates(args.Symbols("custom_predicates"))
	if err != nil {
		return err
	}

	opts := web.RouteOptions{
		Factory:          args.Value("factory"),
		Header:           args.String("header"),
		XHR:              args.Bool("xhr"),
		Accept:           args.String("accept"),
		PathInfo:         args.String("path_info"),
		RequestMethod:    args.String("request_method"),
		RequestParam:     args.String("request_param"),
		CustomPredicates: preds,
		UseGlobalViews:   args.Bool("use_global_views"),
		Traverse:         args.String("traverse"),
		View:             args.Value("view"),
		ViewPermission:   firstText(args, "view_permission", "permission"),
		ViewRenderer:     firstText(args, "view_renderer", "renderer"),
		ViewAttr:         args.String("view_attr"),
		ViewContext:      viewContext,
	}
	return WithContext(ctx).AddRoute(name, pattern, opts)
}

func notFound(ctx *Context, args Args) error {
	return WithContext(ctx).SetNotFoundView(args.Value("view"),
		args.String("attr"), args.String("renderer"), args.String("wrapper"))
}

func forbidden(ctx *Context, args Args) error {
	return WithContext(ctx).SetForbiddenView(args.Value("view"),
		args.String("attr"), args.String("renderer"), args.String("wrapper"))
}

func assetOverride(ctx *Context, args Args) error {
	return WithContext(ctx).OverrideAsset(args.String("to_override"), args.String("override_with"))
}

func remoteUserAuthenticationPolicy(ctx *Context, args Args) error {
	cb, err := callback(args.Symbol("callback"))
	if err != nil {
		return err
	}
	policy := security.NewRemoteUserPolicy(args.String("environ_key"), cb)
	return WithContext(ctx).SetAuthenticationPolicy(policy)
}

func repozeWho1AuthenticationPolicy(ctx *Context, args Args) error {
	cb, err := callback(args.Symbol("callback"))
	if err != nil {
		return err
	}
	policy := security.NewIdentityPolicy(args.String("identifier_name"), cb)
	return WithContext(ctx).SetAuthenticationPolicy(policy)
}

func authTktAuthenticationPolicy(ctx *Context, args Args) error {
	cb, err := callback(args.Symbol("callback"))
	if err != nil {
		return err
	}
	seconds := func(name string) time.Duration {
		n, _ := args.Int(name)
		return time.Duration(n) * time.Second
	}
	policy, err := security.NewTicketPolicy(security.TicketOptions{
		Secret:      args.String("secret"),
		Callback:    cb,
		CookieName:  args.String("cookie_name"),
		Secure:      args.Bool("secure"),
		IncludeIP:   args.Bool("include_ip"),
		Timeout:     seconds("timeout"),
		ReissueTime: seconds("reissue_time"),
		MaxAge:      seconds("max_age"),
		Path:        args.String("path"),
		HTTPOnly:    args.Bool("http_only"),
		WildDomain:  args.Bool("wild_domain"),
	})
	if err != nil {
		return action.Errorf("%s", err)
	}
	return WithContext(ctx).SetAuthenticationPolicy(policy)
}

func aclAuthorizationPolicy(ctx *Context, _ Args) error {
	return WithContext(ctx).SetAuthorizationPolicy(security.NewACLPolicy())
}

func renderer(ctx *Context, args Args) error {
	return WithContext(ctx).AddRenderer(args.String("name"), args.Value("factory"))
}

func defaultPermission(ctx *Context, args Args) error {
	return WithContext(ctx).SetDefaultPermission(args.String("name"))
}

func static(ctx *Context, args Args) error {
	opts := web.StaticOptions{Permission: args.String("permission")}
	if maxAge, ok := args.Int("cache_max_age"); ok {
		opts.CacheMaxAge = &maxAge
	}
	return WithContext(ctx).AddStaticView(args.String("name"), args.String("path"), opts)
}

func scan(ctx *Context, args Args) error {
	return WithContext(ctx).Scan(args.String("package"))
}

func translationDir(ctx *Context, args Args) error {
	return WithContext(ctx).AddTranslationDirs(PathSpec(ctx, args.String("dir")))
}

func localeNegotiator(ctx *Context, args Args) error {
	return WithContext(ctx).SetLocaleNegotiator(args.Value("negotiator"))
}

func adapter(ctx *Context, args Args) error {
	factories := args.Symbols("factory")
	if len(factories) == 0 {
		return action.Errorf("no factory specified")
	}

	var required []component.Spec
	if syms := args.Symbols("for"); syms != nil {
		specs, err := specsOf(syms)
		if err != nil {
			return err
		}
		required = specs
	} else {
		if len(factories) == 1 {
			required = factories[0].Adapts
		}
		if required == nil {
			return action.Errorf("no for attribute was provided and can't determine what the factory adapts")
		}
	}

	provided := args.Interface("provides")
	if provided == nil {
		if len(factories) == 1 && len(factories[0].Implements) == 1 {
			provided = factories[0].Implements[0]
		}
		if provided == nil {
			return action.Errorf(`missing "provides" attribute`)
		}
	}

	if len(factories) > 1 && len(required) != 1 {
		return action.Errorf("can't use multiple factories and multiple for")
	}
	fns := make([]component.Factory, len(factories))
	for i, sym := range factories {
		f, err := factory(sym)
		if err != nil {
			return err
		}
		fns[i] = f
	}
	fn := fns[0]
	if len(fns) > 1 {
		fn = rolledUp(fns)
	}

	name := args.String("name")
	reg := ctx.Registry
	info := ctx.Info
	discriminator := action.Key("adapter", required, provided, name)
	ctx.Action(action.Action{
		Discriminator: discriminator,
		Callable: func([]any, map[string]any) error {
			return reg.RegisterAdapter(fn, required, provided, name, info)
		},
		Introspectables: []action.Introspectable{{
			Category:      "adapters",
			Discriminator: discriminator.String(),
			Title:         fmt.Sprintf("adapter %s for %v", provided, required),
			TypeName:      factories[0].Name,
		}},
	})
	return nil
}

// rolledUp chains factories: each one adapts the previous one's product.
func rolledUp(factories []component.Factory) component.Factory {
	return func(objects ...any) (any, error) {
		out, err := factories[0](objects...)
		if err != nil {
			return nil, err
		}
		for _, f := range factories[1:] {
			if out, err = f(out); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}

func subscriber(ctx *Context, args Args) error {
	factorySym := args.Symbol("factory")
	handlerSym := args.Symbol("handler")
	provided := args.Interface("provides")

	target := factorySym
	switch {
	case factorySym == nil && handlerSym == nil:
		return action.Errorf("no factory or handler provided")
	case factorySym == nil && provided != nil:
		return action.Errorf("cannot use handler with provides")
	case factorySym == nil:
		target = handlerSym
	case handlerSym != nil:
		return action.Errorf("cannot use handler with factory")
	case provided == nil:
		return action.Errorf("you must specify a provided interface when registering a factory")
	}

	var required []component.Spec
	if syms := args.Symbols("for"); syms != nil {
		specs, err := specsOf(syms)
		if err != nil {
			return err
		}
		required = specs
	} else {
		required = target.Adapts
		if required == nil {
			return action.Errorf("no for attribute was provided and can't determine what the factory (or handler) adapts")
		}
	}

	if handlerSym != nil {
		h, err := handler(handlerSym)
		if err != nil {
			return err
		}
		return WithContext(ctx).AddSubscriber(h, required...)
	}

	fn, err := factory(factorySym)
	if err != nil {
		return err
	}
	reg := ctx.Registry
	info := ctx.Info
	ctx.Action(action.Action{
		Callable: func([]any, map[string]any) error {
			return reg.RegisterSubscriptionAdapter(fn, required, provided, info)
		},
		Introspectables: []action.Introspectable{{
			Category: "subscribers",
			Title:    fmt.Sprintf("subscription adapter %s for %v", provided, required),
			TypeName: factorySym.Name,
		}},
	})
	return nil
}

func utility(ctx *Context, args Args) error {
	factorySym := args.Symbol("factory")
	componentSym := args.Symbol("component")
	if factorySym != nil && componentSym != nil {
		return action.Errorf("can't specify factory and component")
	}
	if factorySym == nil && componentSym == nil {
		return action.Errorf("either factory or component is required")
	}

	provided := args.Interface("provides")
	if provided == nil {
		var candidates []*component.Interface
		if factorySym != nil {
			candidates = factorySym.Implements
		} else {
			candidates = componentSym.ProvidedInterfaces()
		}
		if len(candidates) != 1 {
			return action.Errorf(`missing "provides" attribute`)
		}
		provided = candidates[0]
	}

	var value any
	var fn component.Factory
	typeName := ""
	if factorySym != nil {
		f, err := factory(factorySym)
		if err != nil {
			return err
		}
		fn = f
		typeName = factorySym.Name
	} else {
		value = componentSym.Value
		typeName = componentSym.Name
	}

	name := args.String("name")
	reg := ctx.Registry
	info := ctx.Info
	discriminator := action.Key("utility", provided, name)
	ctx.Action(action.Action{
		Discriminator: discriminator,
		Callable: func([]any, map[string]any) error {
			return reg.RegisterUtility(value, provided, name, info, fn)
		},
		Introspectables: []action.Introspectable{{
			Category:      "utilities",
			Discriminator: discriminator.String(),
			Title:         fmt.Sprintf("%s %q", provided, name),
			TypeName:      typeName,
		}},
	})
	return nil
}

// specOf returns the first of the named Object attributes that is set, as
// a spec.
func specOf(args Args, names ...string) (component.Spec, error) {
	for _, n := range names {
		if args.Symbol(n) != nil {
			return args.Spec(n)
		}
	}
	return nil, nil
}

func firstText(args Args, names ...string) string {
	for _, n := range names {
		if s := args.String(n); s != "" {
			return s
		}
	}
	return ""
}

func specsOf(syms []*symbol.Symbol) ([]component.Spec, error) {
	specs := make([]component.Spec, len(syms))
	for i, s := range syms {
		spec, err := s.Spec()
		if err != nil {
			return nil, err
		}
		specs[i] = spec
	}
	return specs, nil
}

func factory(sym *symbol.Symbol) (component.Factory, error) {
	switch f := sym.Value.(type) {
	case component.Factory:
		return f, nil
	case func(...any) (any, error):
		return f, nil
	case func(any) (any, error):
		return func(objects ...any) (any, error) {
			if len(objects) != 1 {
				return nil, fmt.Errorf("%s adapts one object, got %d", sym.Name, len(objects))
			}
			return f(objects[0])
		}, nil
	case func(any) any:
		return func(objects ...any) (any, error) {
			if len(objects) != 1 {
				return nil, fmt.Errorf("%s adapts one object, got %d", sym.Name, len(objects))
			}
			return f(objects[0]), nil
		}, nil
	case func() any:
		return func(...any) (any, error) { return f(), nil }, nil
	}
	return nil, action.Errorf("%s is not a factory (got %T)", sym.Name, sym.Value)
}

func handler(sym *symbol.Symbol) (component.Handler, error) {
	switch h := sym.Value.(type) {
	case component.Handler:
		return h, nil
	case func(...any) error:
		return h, nil
	case func(any) error:
		return func(objects ...any) error {
			if len(objects) != 1 {
				return fmt.Errorf("%s handles one object, got %d", sym.Name, len(objects))
			}
			return h(objects[0])
		}, nil
	case func(any):
		return func(objects ...any) error {
			if len(objects) != 1 {
				return fmt.Errorf("%s handles one object, got %d", sym.Name, len(objects))
			}
			h(objects[0])
			return nil
		}, nil
	}
	return nil, action.Errorf("%s is not an event handler (got %T)", sym.Name, sym.Value)
}

func callback(sym *symbol.Symbol) (security.Callback, error) {
	if sym == nil {
		return nil, nil
	}
	switch cb := sym.Value.(type) {
	case security.Callback:
		return cb, nil
	case func(string, *http.Request) ([]string, bool):
		return cb, nil
	}
	return nil, action.Errorf("%s is not a security callback (got %T)", sym.Name, sym.Value)
}

func customPredicates(syms []*symbol.Symbol) ([]web.CustomPredicate, error) {
	if len(syms) == 0 {
		return nil, nil
	}
	out := make([]web.CustomPredicate, len(syms))
	for i, sym := range syms {
		switch p := sym.Value.(type) {
		case web.CustomPredicate:
			if p.Name == "" {
				p.Name = sym.Name
			}
			out[i] = p
		case func(any, *web.Request) bool:
			out[i] = web.CustomPredicate{Name: sym.Name, Fn: p}
		default:
			return nil, action.Errorf("%s is not a predicate (got %T)", sym.Name, sym.Value)
		}
	}
	return out, nil
}

func decorator(sym *symbol.Symbol) (web.Decorator, error) {
	switch d := sym.Value.(type) {
	case web.Decorator:
		return d, nil
	case func(web.View) web.View:
		return d, nil
	}
	return nil, action.Errorf("%s is not a view decorator (got %T)", sym.Name, sym.Value)
}
