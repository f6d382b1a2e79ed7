package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Pylons/pyramid-zcml/adapters/clock"
	"github.com/Pylons/pyramid-zcml/adapters/idgen"
	"github.com/Pylons/pyramid-zcml/core/security"
	"github.com/Pylons/pyramid-zcml/domain/route"
	"github.com/Pylons/pyramid-zcml/ports"
)

// AppOptions configures the HTTP application.
type AppOptions struct {
	Metrics ports.Metrics

	// MetricsHandler is mounted at MetricsPath (default /metrics) when set.
	MetricsHandler http.Handler
	MetricsPath    string

	IDs   ports.IDGenerator
	Clock ports.Clock
}

// App dispatches requests to the views of a committed registry.
type App struct {
	Registry *Registry

	logger  zerolog.Logger
	metrics ports.Metrics
	ids     ports.IDGenerator
	clock   ports.Clock
	router  chi.Router
}

// NewApp creates the application for reg.
func NewApp(reg *Registry, logger zerolog.Logger, opts AppOptions) *App {
	if opts.Metrics == nil {
		opts.Metrics = ports.NopMetrics{}
	}
	if opts.IDs == nil {
		opts.IDs = idgen.UUID{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	a := &App{
		Registry: reg,
		logger:   logger,
		metrics:  opts.Metrics,
		ids:      opts.IDs,
		clock:    opts.Clock,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if opts.MetricsHandler != nil {
		r.Handle(opts.MetricsPath, opts.MetricsHandler)
	}
	r.Handle("/*", http.HandlerFunc(a.dispatch))
	a.router = r
	return a
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *App) dispatch(w http.ResponseWriter, r *http.Request) {
	start := a.clock.Now()

	req := NewRequest(r, a.Registry)
	req.ID = middleware.GetReqID(r.Context())
	if req.ID == "" {
		req.ID = a.ids.New()
	}

	resp, err := a.Handle(req)
	if err != nil {
		resp = a.handleError(req, err)
	}

	if p := req.authn(); p != nil {
		if re, ok := p.(security.Reissuer); ok {
			re.Reissue(w, r)
		}
	}
	for _, cb := range req.callbacks {
		cb(req, resp)
	}
	if err := a.Registry.Notify(NewResponseEvent{Request: req, Response: resp}); err != nil {
		a.logger.Error().Err(err).Str("request_id", req.ID).Msg("new response subscriber failed")
	}
	resp.Write(w)

	routeName := ""
	if req.MatchedRoute != nil {
		routeName = req.MatchedRoute.Name
	}
	elapsed := a.clock.Now().Sub(start)
	a.metrics.RequestDispatched(routeName, resp.Status, elapsed)
	a.logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("route", routeName).
		Str("view", req.ViewName).
		Int("status", resp.Status).
		Dur("duration", elapsed).
		Str("request_id", req.ID).
		Msg("http request")
}

// Handle runs routing, traversal and view lookup for req.
func (a *App) Handle(req *Request) (*Response, error) {
	reg := a.Registry
	if err := reg.Notify(NewRequestEvent{Request: req}); err != nil {
		return nil, err
	}

	var factory RootFactory
	if v, ok := reg.QueryUtility(IRootFactory, ""); ok {
		factory, _ = v.(RootFactory)
	}

	path := req.URL.Path
	var subpath []string
	if rt, md := reg.Routes.Match(req); rt != nil {
		req.MatchedRoute = rt
		req.MatchDict = md
		req.iface = rt.Iface
		if rt.Factory != nil {
			factory = rt.Factory
		}
		subpath = route.Segments(md["subpath"])
		switch {
		case rt.Traverse != nil:
			p, err := rt.Traverse.Generate(md)
			if err != nil {
				return nil, fmt.Errorf("route %q traverse: %w", rt.Name, err)
			}
			path = p
		default:
			path = md["traverse"]
		}
	}

	var root any = &DefaultRoot{}
	if factory != nil {
		root = factory(req)
	}
	req.Root = root

	res := Traverse(root, route.Segments(path))
	req.Context = res.Context
	req.ViewName = res.ViewName
	req.Traversed = res.Traversed
	req.Subpath = res.Subpath
	if len(req.Subpath) == 0 {
		req.Subpath = subpath
	}

	if err := reg.Notify(ContextFoundEvent{Request: req}); err != nil {
		return nil, err
	}

	view, ok := reg.LookupView(req.Context, req, req.ViewName)
	if !ok {
		return nil, NotFound(fmt.Sprintf("no view for %s (view name %q)", req.URL.Path, req.ViewName))
	}
	return view.Call(req.Context, req)
}

// handleError renders err through its exception view, or as a plain
// response.
func (a *App) handleError(req *Request, err error) *Response {
	req.Exception = err
	if view, ok := a.Registry.LookupExceptionView(err, req); ok {
		resp, verr := view.Call(err, req)
		if verr == nil {
			return resp
		}
		a.logger.Error().Err(verr).Str("request_id", req.ID).Msg("exception view failed")
	}

	var he *HTTPException
	if errors.As(err, &he) {
		return he.Response()
	}
	a.logger.Error().Err(err).Str("request_id", req.ID).Str("path", req.URL.Path).Msg("view failed")
	return NewResponse(http.StatusInternalServerError, "text/plain; charset=utf-8",
		[]byte(http.StatusText(http.StatusInternalServerError)+"\n"))
}

// MakeApp commits pending actions and creates the application. Subscribers
// of IApplicationCreated are notified.
func (c *Configurator) MakeApp(opts AppOptions) (*App, error) {
	if _, err := c.Commit(); err != nil {
		return nil, err
	}
	if opts.Metrics == nil {
		opts.Metrics = c.Metrics
	}
	app := NewApp(c.Registry, c.Logger, opts)
	if err := c.Registry.Notify(ApplicationCreatedEvent{App: app}); err != nil {
		return nil, fmt.Errorf("application created subscriber: %w", err)
	}
	return app, nil
}
