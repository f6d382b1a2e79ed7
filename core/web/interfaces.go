package web

import "github.com/Pylons/pyramid-zcml/core/component"

// Request interfaces.
var (
	IRequest      = component.NewInterface("IRequest")
	IRouteRequest = component.NewInterface("IRouteRequest")
)

// View interfaces. Views are registered as adapters of (classifier,
// request interface, context) providing one of these.
var (
	IView                    = component.NewInterface("IView")
	ISecuredView             = component.NewInterface("ISecuredView", IView)
	IMultiView               = component.NewInterface("IMultiView", ISecuredView)
	IViewClassifier          = component.NewInterface("IViewClassifier")
	IExceptionViewClassifier = component.NewInterface("IExceptionViewClassifier")
)

// Exception contexts.
var (
	IException         = component.NewInterface("IException")
	IExceptionResponse = component.NewInterface("IExceptionResponse", IException)
	INotFound          = component.NewInterface("INotFound", IExceptionResponse)
	IForbidden         = component.NewInterface("IForbidden", IExceptionResponse)
)

// Utility interfaces.
var (
	IAuthenticationPolicy = component.NewInterface("IAuthenticationPolicy")
	IAuthorizationPolicy  = component.NewInterface("IAuthorizationPolicy")
	IDefaultPermission    = component.NewInterface("IDefaultPermission")
	IRendererFactory      = component.NewInterface("IRendererFactory")
	IRootFactory          = component.NewInterface("IRootFactory")
	ILocaleNegotiator     = component.NewInterface("ILocaleNegotiator")
	IStaticURLInfo        = component.NewInterface("IStaticURLInfo")
)

// Event interfaces.
var (
	INewRequest         = component.NewInterface("INewRequest")
	IContextFound       = component.NewInterface("IContextFound")
	INewResponse        = component.NewInterface("INewResponse")
	IApplicationCreated = component.NewInterface("IApplicationCreated")
)
