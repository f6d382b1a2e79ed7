package web_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/component"
	"github.com/Pylons/pyramid-zcml/core/security"
	"github.com/Pylons/pyramid-zcml/core/symbol"
	"github.com/Pylons/pyramid-zcml/core/web"
)

var IFoo = component.NewInterface("IFoo")

type foo struct{}

func (foo) ProvidedInterfaces() []*component.Interface { return []*component.Interface{IFoo} }

func newConfigurator(t *testing.T) *web.Configurator {
	t.Helper()
	tbl := symbol.NewTable()
	pkg := tbl.RegisterPackage("mypkg", t.TempDir())
	reg := web.NewRegistry("test", tbl, zerolog.Nop())
	return web.NewConfigurator(reg, pkg)
}

func textView(body string) web.ViewFunc {
	return func(any, *web.Request) (any, error) {
		return web.Text(body), nil
	}
}

func serve(t *testing.T, app http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		r.Header[k] = vs
	}
	w := httptest.NewRecorder()
	app.ServeHTTP(w, r)
	return w
}

func TestAddView_LookupRendersJSON(t *testing.T) {
	c := newConfigurator(t)
	c.Registry.Symbols.Register("mypkg.view_fn", web.ViewFunc(func(any, *web.Request) (any, error) {
		return map[string]any{"hello": "world"}, nil
	}))
	c.Registry.Symbols.Register("mypkg.models.IFoo", IFoo)

	err := c.AddView(web.ViewOptions{View: "mypkg.view_fn", Context: ".models.IFoo", Renderer: "json"})
	if err != nil {
		t.Fatalf("AddView() error = %v", err)
	}
	if _, err := c.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	v, ok := c.Registry.LookupAdapter([]component.Spec{web.IViewClassifier, web.IRequest, IFoo}, web.IView, "")
	if !ok {
		t.Fatal("no view registered for (IViewClassifier, IRequest, IFoo)")
	}
	view, ok := v.(web.ViewCallable)
	if !ok {
		t.Fatalf("registered value %T is not a view", v)
	}

	req := web.NewRequest(httptest.NewRequest("GET", "/", nil), c.Registry)
	resp, err := view.Call(foo{}, req)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got map[string]string
	if err := json.Unmarshal(resp.Body, &got); err != nil || got["hello"] != "world" {
		t.Errorf("body = %s (%v)", resp.Body, err)
	}
}

func TestAddView_RequiresViewOrRenderer(t *testing.T) {
	c := newConfigurator(t)
	err := c.AddView(web.ViewOptions{Name: "x"})
	if !action.IsConfigurationError(err) {
		t.Fatalf("AddView() error = %v, want configuration error", err)
	}
	if c.Registry.ActionState().Len() != 0 {
		t.Error("no action should be recorded")
	}
}

func TestAddView_Conflict(t *testing.T) {
	c := newConfigurator(t)
	for i := 0; i < 2; i++ {
		if err := c.AddView(web.ViewOptions{View: textView("x"), Name: "same"}); err != nil {
			t.Fatal(err)
		}
	}
	_, err := c.Commit()
	if !action.IsConflict(err) {
		t.Fatalf("Commit() error = %v, want conflict", err)
	}
}

func TestAddView_Autocommit(t *testing.T) {
	c := newConfigurator(t)
	c.Autocommit = true
	if err := c.AddView(web.ViewOptions{View: textView("x"), Name: "now"}); err != nil {
		t.Fatal(err)
	}
	if c.Registry.ActionState().Len() != 0 {
		t.Error("autocommit should not record actions")
	}
	if _, ok := c.Registry.LookupAdapter([]component.Spec{web.IViewClassifier, web.IRequest, component.Object}, web.IView, "now"); !ok {
		t.Error("view should be registered immediately")
	}
}

func TestMultiView_PredicateOrder(t *testing.T) {
	c := newConfigurator(t)
	if err := c.AddView(web.ViewOptions{View: textView("any"), Name: "edit"}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddView(web.ViewOptions{View: textView("post"), Name: "edit", RequestMethod: "POST"}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddView(web.ViewOptions{View: textView("xhr-post"), Name: "edit", RequestMethod: "POST", XHR: true}); err != nil {
		t.Fatal(err)
	}
	app, err := c.MakeApp(web.AppOptions{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		method string
		header http.Header
		want   string
	}{
		{"GET", nil, "any"},
		{"POST", nil, "post"},
		{"POST", http.Header{"X-Requested-With": {"XMLHttpRequest"}}, "xhr-post"},
	}
	for _, tt := range tests {
		w := serve(t, app, tt.method, "/edit", tt.header)
		if w.Body.String() != tt.want {
			t.Errorf("%s /edit = %q, want %q", tt.method, w.Body.String(), tt.want)
		}
	}
}

func TestPredicateMismatchIsNotFound(t *testing.T) {
	c := newConfigurator(t)
	if err := c.AddView(web.ViewOptions{View: textView("ok"), RequestParam: "token=abc"}); err != nil {
		t.Fatal(err)
	}
	app, err := c.MakeApp(web.AppOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if w := serve(t, app, "GET", "/?token=abc", nil); w.Code != 200 || w.Body.String() != "ok" {
		t.Errorf("matching request = %d %q", w.Code, w.Body.String())
	}
	if w := serve(t, app, "GET", "/?token=other", nil); w.Code != http.StatusNotFound {
		t.Errorf("mismatching request status = %d, want 404", w.Code)
	}
}

func TestRoutes_Dispatch(t *testing.T) {
	c := newConfigurator(t)
	c.RoutePrefix = "/api"
	err := c.AddRoute("user", "/users/{id}", web.RouteOptions{
		View: web.RequestViewFunc(func(req *web.Request) (any, error) {
			return map[string]string{"id": req.MatchDict["id"]}, nil
		}),
		ViewRenderer:  "json",
		RequestMethod: "GET",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddView(web.ViewOptions{View: textView("global")}); err != nil {
		t.Fatal(err)
	}
	app, err := c.MakeApp(web.AppOptions{})
	if err != nil {
		t.Fatal(err)
	}

	w := serve(t, app, "GET", "/api/users/42", nil)
	if w.Code != 200 || !strings.Contains(w.Body.String(), `"id":"42"`) {
		t.Errorf("GET /api/users/42 = %d %q", w.Code, w.Body.String())
	}
	// A failing route predicate falls through to traversal, where the
	// view name "api" has no view.
	w = serve(t, app, "DELETE", "/api/users/42", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("DELETE /api/users/42 status = %d, want 404", w.Code)
	}
	if w := serve(t, app, "GET", "/", nil); w.Body.String() != "global" {
		t.Errorf("GET / = %q", w.Body.String())
	}
}

func TestRoutes_GlobalViews(t *testing.T) {
	c := newConfigurator(t)
	if err := c.AddRoute("scoped", "/scoped/*traverse", web.RouteOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddRoute("global", "/global/*traverse", web.RouteOptions{UseGlobalViews: true}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddView(web.ViewOptions{View: textView("global view")}); err != nil {
		t.Fatal(err)
	}
	app, err := c.MakeApp(web.AppOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if w := serve(t, app, "GET", "/global/", nil); w.Body.String() != "global view" {
		t.Errorf("use_global_views route = %d %q", w.Code, w.Body.String())
	}
	if w := serve(t, app, "GET", "/scoped/", nil); w.Code != http.StatusNotFound {
		t.Errorf("scoped route status = %d, want 404", w.Code)
	}
}

func TestAddView_UnknownRoute(t *testing.T) {
	c := newConfigurator(t)
	if err := c.AddView(web.ViewOptions{View: textView("x"), RouteName: "missing"}); err != nil {
		t.Fatal(err)
	}
	_, err := c.Commit()
	if err == nil || !strings.Contains(err.Error(), "no route named missing") {
		t.Fatalf("Commit() error = %v", err)
	}
}

type folder struct {
	parent   any
	children map[string]any
	acl      []security.ACE
}

func (f *folder) Get(name string) (any, bool) {
	c, ok := f.children[name]
	return c, ok
}

func (f *folder) Parent() any {
	if f.parent == nil {
		return nil
	}
	return f.parent
}

func (f *folder) ACL() []security.ACE { return f.acl }

func TestTraversalAndSecurity(t *testing.T) {
	root := &folder{acl: []security.ACE{{Action: security.Allow, Principal: security.Everyone, Permissions: []string{"view"}}}}
	doc := &folder{parent: root, acl: []security.ACE{{Action: security.Allow, Principal: "editor", Permissions: []string{"edit"}}}}
	root.children = map[string]any{"doc": doc}

	c := newConfigurator(t)
	if err := c.SetRootFactory(func(*web.Request) any { return root }); err != nil {
		t.Fatal(err)
	}
	if err := c.SetAuthenticationPolicy(security.NewRemoteUserPolicy("", nil)); err != nil {
		t.Fatal(err)
	}
	if err := c.SetAuthorizationPolicy(security.NewACLPolicy()); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDefaultPermission("view"); err != nil {
		t.Fatal(err)
	}
	showPath := web.ViewFunc(func(ctx any, req *web.Request) (any, error) {
		return web.Text(req.ViewName + ":" + strings.Join(req.Subpath, "/")), nil
	})
	if err := c.AddView(web.ViewOptions{View: showPath, Name: "show", Context: component.TypeOf(&folder{})}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddView(web.ViewOptions{View: textView("edited"), Name: "edit", Permission: "edit", Context: component.TypeOf(&folder{})}); err != nil {
		t.Fatal(err)
	}
	app, err := c.MakeApp(web.AppOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if w := serve(t, app, "GET", "/doc/show/a/b", nil); w.Body.String() != "show:a/b" {
		t.Errorf("traversal = %d %q", w.Code, w.Body.String())
	}
	if w := serve(t, app, "GET", "/doc/@@show", nil); w.Body.String() != "show:" {
		t.Errorf("@@ view name = %q", w.Body.String())
	}
	if w := serve(t, app, "GET", "/doc/edit", nil); w.Code != http.StatusForbidden {
		t.Errorf("anonymous edit status = %d, want 403", w.Code)
	}
	if w := serve(t, app, "GET", "/doc/edit", http.Header{"Remote-User": {"editor"}}); w.Code != 200 {
		t.Errorf("editor edit status = %d, want 200", w.Code)
	}
}

func TestExceptionViews(t *testing.T) {
	c := newConfigurator(t)
	notFound := web.ViewFunc(func(ctx any, req *web.Request) (any, error) {
		resp := web.Text("custom not found")
		resp.Status = http.StatusNotFound
		return resp, nil
	})
	if err := c.SetNotFoundView(notFound, "", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := c.AddView(web.ViewOptions{View: web.ViewFunc(func(any, *web.Request) (any, error) {
		return nil, web.Forbidden("nope")
	}), Name: "secret"}); err != nil {
		t.Fatal(err)
	}
	app, err := c.MakeApp(web.AppOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if w := serve(t, app, "GET", "/missing", nil); w.Code != 404 || w.Body.String() != "custom not found" {
		t.Errorf("not found = %d %q", w.Code, w.Body.String())
	}
	if w := serve(t, app, "GET", "/secret", nil); w.Code != 403 {
		t.Errorf("forbidden status = %d", w.Code)
	}
}

func TestWrapperView(t *testing.T) {
	c := newConfigurator(t)
	wrapper := web.ViewFunc(func(ctx any, req *web.Request) (any, error) {
		return web.Text("<" + string(req.WrappedResponse.Body) + ">"), nil
	})
	if err := c.AddView(web.ViewOptions{View: wrapper, Name: "layout"}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddView(web.ViewOptions{View: textView("inner"), Name: "page", Wrapper: "layout"}); err != nil {
		t.Fatal(err)
	}
	app, err := c.MakeApp(web.AppOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if w := serve(t, app, "GET", "/page", nil); w.Body.String() != "<inner>" {
		t.Errorf("wrapped = %q", w.Body.String())
	}
}

type pageView struct {
	req *web.Request
}

func (v *pageView) Call() (any, error) { return "call", nil }
func (v *pageView) Other() any        { return "other:" + v.req.ViewName }

func TestViewClassAttr(t *testing.T) {
	c := newConfigurator(t)
	newPage := web.ViewClass(func(ctx any, req *web.Request) any { return &pageView{req: req} })
	if err := c.AddView(web.ViewOptions{View: newPage, Name: "a", Renderer: "string"}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddView(web.ViewOptions{View: newPage, Name: "b", Attr: "Other", Renderer: "string"}); err != nil {
		t.Fatal(err)
	}
	app, err := c.MakeApp(web.AppOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if w := serve(t, app, "GET", "/a", nil); w.Body.String() != "call" {
		t.Errorf("default attr = %q", w.Body.String())
	}
	if w := serve(t, app, "GET", "/b", nil); w.Body.String() != "other:b" {
		t.Errorf("attr Other = %q", w.Body.String())
	}
}

func TestStaticView(t *testing.T) {
	c := newConfigurator(t)
	dir := filepath.Join(c.Package.Dir, "static")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.css"), []byte("body{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.AddStaticView("static", "static", web.StaticOptions{}); err != nil {
		t.Fatal(err)
	}
	app, err := c.MakeApp(web.AppOptions{})
	if err != nil {
		t.Fatal(err)
	}

	w := serve(t, app, "GET", "/static/app.css", nil)
	if w.Code != 200 || w.Body.String() != "body{}" {
		t.Fatalf("static = %d %q", w.Code, w.Body.String())
	}
	if cc := w.Header().Get("Cache-Control"); cc != "max-age=3600" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if w := serve(t, app, "GET", "/static/../secret", nil); w.Code != http.StatusNotFound {
		t.Errorf("escape attempt status = %d", w.Code)
	}
}

func TestStaticView_ExplicitZeroMaxAge(t *testing.T) {
	c := newConfigurator(t)
	dir := filepath.Join(c.Package.Dir, "static")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.css"), []byte("body{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	zero := 0
	if err := c.AddStaticView("static", "static", web.StaticOptions{CacheMaxAge: &zero}); err != nil {
		t.Fatal(err)
	}
	app, err := c.MakeApp(web.AppOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if cc := serve(t, app, "GET", "/static/app.css", nil).Header().Get("Cache-Control"); cc != "max-age=0" {
		t.Errorf("Cache-Control = %q, want max-age=0", cc)
	}
}

func TestCustomPredicate_KeyedByName(t *testing.T) {
	always := func(any, *web.Request) bool { return true }
	a := web.CustomPredicate{Name: "pkg.a", Fn: always}
	b := web.CustomPredicate{Name: "pkg.b", Fn: always}
	if a.DiscriminatorKey() == b.DiscriminatorKey() {
		t.Fatalf("distinct names share key %q", a.DiscriminatorKey())
	}

	pa, err := web.BuildPredicates(web.PredicateOptions{CustomPredicates: []web.CustomPredicate{a}})
	if err != nil {
		t.Fatal(err)
	}
	pb, _ := web.BuildPredicates(web.PredicateOptions{CustomPredicates: []web.CustomPredicate{b}})
	if pa.Hash() == pb.Hash() {
		t.Errorf("predicate hashes equal: %q", pa.Hash())
	}
	if pa[0].Text != "custom predicate pkg.a" {
		t.Errorf("Text = %q", pa[0].Text)
	}
}

type event struct{}

func (event) ProvidedInterfaces() []*component.Interface { return []*component.Interface{IFoo} }

func TestAddSubscriber_CalledOnce(t *testing.T) {
	c := newConfigurator(t)
	calls := 0
	handler := func(objects ...any) error {
		calls++
		return nil
	}
	if err := c.AddSubscriber(handler, IFoo); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := c.Registry.Notify(event{}); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestApplicationCreatedEvent(t *testing.T) {
	c := newConfigurator(t)
	var got *web.App
	if err := c.AddSubscriber(func(objects ...any) error {
		got = objects[0].(web.ApplicationCreatedEvent).App
		return nil
	}, web.IApplicationCreated); err != nil {
		t.Fatal(err)
	}
	app, err := c.MakeApp(web.AppOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got != app {
		t.Error("IApplicationCreated subscriber should receive the app")
	}
}

func TestAccepts(t *testing.T) {
	tests := []struct {
		header, offer string
		want          bool
	}{
		{"", "text/html", true},
		{"text/html", "text/html", true},
		{"application/json", "text/html", false},
		{"text/*", "text/html", true},
		{"*/*", "application/json", true},
		{"text/html;q=0", "text/html", false},
		{"application/json", "application/*", true},
	}
	for _, tt := range tests {
		if got := web.Accepts(tt.header, tt.offer); got != tt.want {
			t.Errorf("Accepts(%q, %q) = %v, want %v", tt.header, tt.offer, got, tt.want)
		}
	}
}
