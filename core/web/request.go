package web

import (
	"fmt"
	"net/http"

	"github.com/Pylons/pyramid-zcml/core/component"
	"github.com/Pylons/pyramid-zcml/core/i18n"
	"github.com/Pylons/pyramid-zcml/core/security"
)

// Request is the request object passed to views. It embeds the underlying
// *http.Request and carries the results of routing and traversal.
type Request struct {
	*http.Request

	Registry *Registry
	ID       string

	// Routing
	MatchDict    map[string]string
	MatchedRoute *Route

	// Traversal
	Root      any
	Context   any
	ViewName  string
	Subpath   []string
	Traversed []string

	// Set while calling a wrapper view.
	WrappedResponse *Response
	WrappedView     *DerivedView

	// Set while calling an exception view.
	Exception error

	iface     *component.Interface
	extra     []*component.Interface
	callbacks []func(*Request, *Response)
	locale    string
}

// NewRequest wraps r for dispatch through reg.
func NewRequest(r *http.Request, reg *Registry) *Request {
	return &Request{Request: r, Registry: reg, iface: IRequest}
}

// ProvidedInterfaces returns the request interface (IRequest, or the
// matched route's request interface) and any interfaces added with
// AlsoProvide.
func (r *Request) ProvidedInterfaces() []*component.Interface {
	return append([]*component.Interface{r.iface}, r.extra...)
}

// AlsoProvide declares additional interfaces on the request, for
// request_type view predicates.
func (r *Request) AlsoProvide(ifaces ...*component.Interface) {
	r.extra = append(r.extra, ifaces...)
}

// AddResponseCallback registers fn to run before the response is written.
func (r *Request) AddResponseCallback(fn func(*Request, *Response)) {
	r.callbacks = append(r.callbacks, fn)
}

func (r *Request) authn() security.AuthenticationPolicy {
	if r.Registry == nil {
		return nil
	}
	p, _ := r.Registry.QueryUtility(IAuthenticationPolicy, "")
	policy, _ := p.(security.AuthenticationPolicy)
	return policy
}

func (r *Request) authz() security.AuthorizationPolicy {
	if r.Registry == nil {
		return nil
	}
	p, _ := r.Registry.QueryUtility(IAuthorizationPolicy, "")
	policy, _ := p.(security.AuthorizationPolicy)
	return policy
}

// AuthenticatedUserID returns the user id validated by the authentication
// policy.
func (r *Request) AuthenticatedUserID() (string, bool) {
	if p := r.authn(); p != nil {
		return p.AuthenticatedUserID(r.Request)
	}
	return "", false
}

// EffectivePrincipals returns the principals of the request. Without an
// authentication policy this is just Everyone.
func (r *Request) EffectivePrincipals() []string {
	if p := r.authn(); p != nil {
		return p.EffectivePrincipals(r.Request)
	}
	return []string{security.Everyone}
}

// HasPermission reports whether the request holds permission on context.
// Without an authorization policy every permission is granted.
func (r *Request) HasPermission(permission string, context any) bool {
	authz := r.authz()
	if authz == nil {
		return true
	}
	return authz.Permits(context, r.EffectivePrincipals(), permission)
}

// Remember returns the headers that log userid in.
func (r *Request) Remember(userid string) http.Header {
	if p := r.authn(); p != nil {
		return p.Remember(r.Request, userid)
	}
	return nil
}

// Forget returns the headers that log the current user out.
func (r *Request) Forget() http.Header {
	if p := r.authn(); p != nil {
		return p.Forget(r.Request)
	}
	return nil
}

// LocaleName returns the negotiated locale of the request.
func (r *Request) LocaleName() string {
	if r.locale != "" {
		return r.locale
	}
	var negotiator i18n.Negotiator
	if v, ok := r.Registry.QueryUtility(ILocaleNegotiator, ""); ok {
		negotiator, _ = v.(i18n.Negotiator)
	}
	r.locale = r.Registry.Translations.Negotiate(r.Request, negotiator)
	return r.locale
}

// Localizer returns the localizer for the request's locale.
func (r *Request) Localizer() *i18n.Localizer {
	return r.Registry.Translations.Localizer(r.LocaleName())
}

// Translate translates msgid in domain for the request's locale.
func (r *Request) Translate(msgid, domain string, mapping map[string]string) string {
	return r.Localizer().Translate(msgid, domain, mapping)
}

// RouteURL generates the path of the named route.
func (r *Request) RouteURL(name string, values map[string]string) (string, error) {
	rt, ok := r.Registry.Routes.Get(name)
	if !ok {
		return "", fmt.Errorf("no route named %q", name)
	}
	return rt.Generate(values)
}

// Response is what views produce.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewResponse creates a response with a content type.
func NewResponse(status int, contentType string, body []byte) *Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &Response{Status: status, Header: h, Body: body}
}

// Text creates a 200 text/plain response.
func Text(body string) *Response {
	return NewResponse(http.StatusOK, "text/plain; charset=utf-8", []byte(body))
}

// Write sends the response.
func (resp *Response) Write(w http.ResponseWriter) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

// HTTPException is an error that is also a response. Views return one to
// abort with an HTTP status; exception views are looked up by its
// interfaces.
type HTTPException struct {
	Status  int
	Message string
	Header  http.Header

	iface *component.Interface
}

// NewHTTPException creates an exception response for status.
func NewHTTPException(status int, message string) *HTTPException {
	iface := IExceptionResponse
	switch status {
	case http.StatusNotFound:
		iface = INotFound
	case http.StatusForbidden:
		iface = IForbidden
	}
	return &HTTPException{Status: status, Message: message, Header: http.Header{}, iface: iface}
}

// NotFound creates a 404 exception.
func NotFound(message string) *HTTPException {
	return NewHTTPException(http.StatusNotFound, message)
}

// Forbidden creates a 403 exception.
func Forbidden(message string) *HTTPException {
	return NewHTTPException(http.StatusForbidden, message)
}

// PredicateMismatch is the 404 raised when no view's predicates match.
func PredicateMismatch(viewName string) *HTTPException {
	return NotFound(fmt.Sprintf("predicate mismatch for view %s", viewName))
}

func (e *HTTPException) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// ProvidedInterfaces returns the exception's context interface.
func (e *HTTPException) ProvidedInterfaces() []*component.Interface {
	return []*component.Interface{e.iface}
}

// Response renders the exception as a plain-text response.
func (e *HTTPException) Response() *Response {
	body := fmt.Sprintf("%d %s\n\n%s\n", e.Status, http.StatusText(e.Status), e.Message)
	resp := NewResponse(e.Status, "text/plain; charset=utf-8", []byte(body))
	for k, vs := range e.Header {
		resp.Header[k] = append(resp.Header[k], vs...)
	}
	return resp
}

// NewRequestEvent is notified when a request enters the application.
type NewRequestEvent struct{ Request *Request }

func (NewRequestEvent) ProvidedInterfaces() []*component.Interface {
	return []*component.Interface{INewRequest}
}

// ContextFoundEvent is notified once traversal found the context.
type ContextFoundEvent struct{ Request *Request }

func (ContextFoundEvent) ProvidedInterfaces() []*component.Interface {
	return []*component.Interface{IContextFound}
}

// NewResponseEvent is notified before a response is written.
type NewResponseEvent struct {
	Request  *Request
	Response *Response
}

func (NewResponseEvent) ProvidedInterfaces() []*component.Interface {
	return []*component.Interface{INewResponse}
}

// ApplicationCreatedEvent is notified by MakeApp.
type ApplicationCreatedEvent struct{ App *App }

func (ApplicationCreatedEvent) ProvidedInterfaces() []*component.Interface {
	return []*component.Interface{IApplicationCreated}
}
