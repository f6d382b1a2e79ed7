package web

import (
	"bytes"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"sync"

	"github.com/Pylons/pyramid-zcml/core/render"
	"github.com/Pylons/pyramid-zcml/core/security"
)

// View is a fully derived view callable.
type View func(context any, req *Request) (*Response, error)

// ViewCallable is the value registered for IView lookups.
type ViewCallable interface {
	Call(context any, req *Request) (*Response, error)
}

// Accepted shapes of user view callables.
type (
	// ViewFunc receives the context and the request.
	ViewFunc func(context any, req *Request) (any, error)

	// RequestViewFunc receives only the request.
	RequestViewFunc func(req *Request) (any, error)

	// ViewClass constructs a view instance per request. The instance's
	// method named by the view's attr (default "Call") produces the result.
	ViewClass func(context any, req *Request) any
)

// Decorator wraps a view callable.
type Decorator func(View) View

// ViewMapper turns a user callable into a View returning raw results.
type ViewMapper interface {
	Map(view any, attr string) (func(context any, req *Request) (any, error), error)
}

// DefaultMapper maps the callable shapes listed above, http.Handler values
// and instances with an attr method.
type DefaultMapper struct{}

func (DefaultMapper) Map(view any, attr string) (func(context any, req *Request) (any, error), error) {
	switch v := view.(type) {
	case ViewFunc:
		return v, nil
	case func(context any, req *Request) (any, error):
		return v, nil
	case RequestViewFunc:
		return func(_ any, req *Request) (any, error) { return v(req) }, nil
	case func(req *Request) (any, error):
		return func(_ any, req *Request) (any, error) { return v(req) }, nil
	case ViewClass:
		if attr == "" {
			attr = "Call"
		}
		return func(context any, req *Request) (any, error) {
			return callMethod(v(context, req), attr)
		}, nil
	case http.Handler:
		return func(_ any, req *Request) (any, error) {
			w := newBufferedWriter()
			v.ServeHTTP(w, req.Request)
			return w.response(), nil
		}, nil
	case func(http.ResponseWriter, *http.Request):
		return DefaultMapper{}.Map(http.HandlerFunc(v), attr)
	}

	if attr != "" {
		m := reflect.ValueOf(view).MethodByName(attr)
		if !m.IsValid() {
			return nil, fmt.Errorf("view %T has no method %q", view, attr)
		}
		fn, ok := m.Interface().(func(any, *Request) (any, error))
		if !ok {
			return nil, fmt.Errorf("view method %T.%s has an unsupported signature", view, attr)
		}
		return fn, nil
	}
	return nil, fmt.Errorf("unsupported view callable %T", view)
}

func callMethod(inst any, attr string) (any, error) {
	m := reflect.ValueOf(inst).MethodByName(attr)
	if !m.IsValid() {
		return nil, fmt.Errorf("view instance %T has no method %q", inst, attr)
	}
	switch fn := m.Interface().(type) {
	case func() (any, error):
		return fn()
	case func() any:
		return fn(), nil
	case func() *Response:
		return fn(), nil
	}
	return nil, fmt.Errorf("view method %T.%s has an unsupported signature", inst, attr)
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: http.Header{}}
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *bufferedWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *bufferedWriter) response() *Response {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	return &Response{Status: status, Header: w.header, Body: w.body.Bytes()}
}

// DerivedView is a user view wrapped with rendering, decoration, wrapping,
// security and predicates.
type DerivedView struct {
	Name       string
	Permission string
	Predicates PredicateSet
	PHash      string
	Original   any
	Info       string

	view View
}

// Call checks the predicates and runs the view.
func (v *DerivedView) Call(context any, req *Request) (*Response, error) {
	if !v.Predicates.Match(context, req) {
		return nil, PredicateMismatch(v.Name)
	}
	return v.view(context, req)
}

// Permitted reports whether the request may call the view on context.
func (v *DerivedView) Permitted(context any, req *Request) bool {
	if v.Permission == "" || v.Permission == security.NoPermissionRequired {
		return true
	}
	return req.HasPermission(v.Permission, context)
}

// MultiView dispatches to the first of several views registered for the
// same lookup key whose predicates match. Views with more predicates are
// tried first.
type MultiView struct {
	Name string

	mu    sync.RWMutex
	views []*DerivedView
}

func NewMultiView(name string) *MultiView {
	return &MultiView{Name: name}
}

// Add inserts v. A view with the same predicate hash is replaced.
func (mv *MultiView) Add(v *DerivedView) {
	mv.mu.Lock()
	defer mv.mu.Unlock()

	for i, old := range mv.views {
		if old.PHash == v.PHash {
			mv.views[i] = v
			return
		}
	}
	mv.views = append(mv.views, v)
	sort.SliceStable(mv.views, func(i, j int) bool {
		return len(mv.views[i].Predicates) > len(mv.views[j].Predicates)
	})
}

// Views returns the views in dispatch order.
func (mv *MultiView) Views() []*DerivedView {
	mv.mu.RLock()
	defer mv.mu.RUnlock()
	return append([]*DerivedView(nil), mv.views...)
}

func (mv *MultiView) Call(context any, req *Request) (*Response, error) {
	for _, v := range mv.Views() {
		if v.Predicates.Match(context, req) {
			return v.view(context, req)
		}
	}
	return nil, PredicateMismatch(mv.Name)
}

// Permitted reports whether the first matching view is permitted.
func (mv *MultiView) Permitted(context any, req *Request) bool {
	for _, v := range mv.Views() {
		if v.Predicates.Match(context, req) {
			return v.Permitted(context, req)
		}
	}
	return false
}

// deriveOptions is what deriveView needs from the registration.
type deriveOptions struct {
	View       any
	Attr       string
	Name       string
	Permission string
	Renderer   render.Renderer
	RendererNm string
	Wrapper    string
	Decorator  Decorator
	Mapper     ViewMapper
	Predicates PredicateSet
	Info       string
}

func (r *Registry) deriveView(opts deriveOptions) (*DerivedView, error) {
	mapper := opts.Mapper
	if mapper == nil {
		mapper = DefaultMapper{}
	}
	mapped, err := mapper.Map(opts.View, opts.Attr)
	if err != nil {
		return nil, err
	}

	dv := &DerivedView{
		Name:       opts.Name,
		Permission: opts.Permission,
		Predicates: opts.Predicates,
		PHash:      opts.Predicates.Hash(),
		Original:   opts.View,
		Info:       opts.Info,
	}

	// rendered
	view := func(context any, req *Request) (*Response, error) {
		result, err := mapped(context, req)
		if err != nil {
			return nil, err
		}
		if resp, ok := result.(*Response); ok {
			return resp, nil
		}
		if opts.Renderer == nil {
			return nil, fmt.Errorf("could not convert return value of view %q (%T) into a response", opts.Name, result)
		}
		body, err := opts.Renderer.Render(result, render.System{
			View:         opts.Name,
			RendererName: opts.RendererNm,
			Context:      context,
			Request:      req.Request,
		})
		if err != nil {
			return nil, fmt.Errorf("render view %q: %w", opts.Name, err)
		}
		return NewResponse(http.StatusOK, opts.Renderer.ContentType(), body), nil
	}

	// decorated
	if opts.Decorator != nil {
		view = opts.Decorator(view)
	}

	// wrapped by another named view
	if opts.Wrapper != "" {
		inner := view
		wrapper := opts.Wrapper
		view = func(context any, req *Request) (*Response, error) {
			resp, err := inner(context, req)
			if err != nil {
				return nil, err
			}
			w, ok := r.LookupView(context, req, wrapper)
			if !ok {
				return nil, fmt.Errorf("no wrapper view named %q found when executing view named %q", wrapper, opts.Name)
			}
			prevResp, prevView := req.WrappedResponse, req.WrappedView
			req.WrappedResponse, req.WrappedView = resp, dv
			defer func() { req.WrappedResponse, req.WrappedView = prevResp, prevView }()
			return w.Call(context, req)
		}
	}

	// secured
	if opts.Permission != "" && opts.Permission != security.NoPermissionRequired {
		inner := view
		view = func(context any, req *Request) (*Response, error) {
			if !dv.Permitted(context, req) {
				return nil, Forbidden(fmt.Sprintf("view %q requires permission %q", opts.Name, opts.Permission))
			}
			return inner(context, req)
		}
	}

	dv.view = view
	return dv, nil
}
