package zcml

import "github.com/Pylons/pyramid-zcml/core/security"

// Directives returns the schemas of the built-in directives.
func Directives() []*Schema {
	return []*Schema{
		{
			Name: "view",
			Fields: []Field{
				{Name: "context", Kind: Object},
				{Name: "for", Kind: Object},
				{Name: "permission", Kind: Text},
				{Name: "view", Kind: Object},
				{Name: "name", Kind: Text},
				{Name: "attr", Kind: Text},
				{Name: "renderer", Kind: Text},
				{Name: "wrapper", Kind: Text},
				{Name: "request_type", Kind: Object},
				{Name: "route_name", Kind: Text},
				{Name: "containment", Kind: Object},
				{Name: "request_method", Kind: Text},
				{Name: "request_param", Kind: Text},
				{Name: "xhr", Kind: Bool},
				{Name: "accept", Kind: Text},
				{Name: "header", Kind: Text},
				{Name: "path_info", Kind: Text},
				{Name: "decorator", Kind: Object},
				{Name: "mapper", Kind: Object},
				{Name: "custom_predicates", Kind: Tokens},
			},
			Handler: view,
		},
		{
			Name: "route",
			Fields: []Field{
				{Name: "name", Kind: Text, Required: true},
				{Name: "pattern", Kind: Text},
				{Name: "path", Kind: Text},
				{Name: "factory", Kind: Object},
				{Name: "view", Kind: Object},
				{Name: "view_context", Kind: Object},
				{Name: "for", Kind: Object},
				{Name: "view_for", Kind: Object},
				{Name: "view_permission", Kind: Text},
				{Name: "permission", Kind: Text},
				{Name: "view_renderer", Kind: Text},
				{Name: "renderer", Kind: Text},
				{Name: "view_attr", Kind: Text},
				{Name: "request_method", Kind: Text},
				{Name: "request_param", Kind: Text},
				{Name: "header", Kind: Text},
				{Name: "accept", Kind: Text},
				{Name: "xhr", Kind: Bool},
				{Name: "path_info", Kind: Text},
				{Name: "traverse", Kind: Text},
				{Name: "custom_predicates", Kind: Tokens},
				{Name: "use_global_views", Kind: Bool},
			},
			Handler: route,
		},
		{Name: "notfound", Fields: systemViewFields(), Handler: notFound},
		{Name: "forbidden", Fields: systemViewFields(), Handler: forbidden},
		{
			Name: "asset",
			Fields: []Field{
				{Name: "to_override", Kind: Text, Required: true},
				{Name: "override_with", Kind: Text, Required: true},
			},
			Handler: assetOverride,
		},
		{
			Name:  "remoteuserauthenticationpolicy",
			Eager: true,
			Fields: []Field{
				{Name: "environ_key", Kind: Text, Default: "REMOTE_USER"},
				{Name: "callback", Kind: Object},
			},
			Handler: remoteUserAuthenticationPolicy,
		},
		{
			Name:  "repozewho1authenticationpolicy",
			Eager: true,
			Fields: []Field{
				{Name: "identifier_name", Kind: Text, Default: "auth_tkt"},
				{Name: "callback", Kind: Object},
			},
			Handler: repozeWho1AuthenticationPolicy,
		},
		{
			Name:  "authtktauthenticationpolicy",
			Eager: true,
			Fields: []Field{
				{Name: "secret", Kind: Text, Required: true},
				{Name: "callback", Kind: Object},
				{Name: "cookie_name", Kind: Text, Default: "auth_tkt"},
				{Name: "secure", Kind: Bool, Default: false},
				{Name: "include_ip", Kind: Bool, Default: false},
				{Name: "timeout", Kind: Int},
				{Name: "reissue_time", Kind: Int},
				{Name: "max_age", Kind: Int},
				{Name: "path", Kind: Text, Default: "/"},
				{Name: "http_only", Kind: Bool, Default: false},
				{Name: "wild_domain", Kind: Bool, Default: true},
			},
			Handler: authTktAuthenticationPolicy,
		},
		{Name: "aclauthorizationpolicy", Eager: true, Handler: aclAuthorizationPolicy},
		{
			Name:  "renderer",
			Eager: true,
			Fields: []Field{
				{Name: "factory", Kind: Object, Required: true},
				{Name: "name", Kind: Text, Default: ""},
			},
			Handler: renderer,
		},
		{
			Name: "static",
			Fields: []Field{
				{Name: "name", Kind: Text, Required: true},
				{Name: "path", Kind: Text, Required: true},
				{Name: "cache_max_age", Kind: Int, Default: 3600},
				{Name: "permission", Kind: Text, Default: security.NoPermissionRequired},
			},
			Handler: static,
		},
		{
			Name:    "scan",
			Fields:  []Field{{Name: "package", Kind: Text, Required: true}},
			Handler: scan,
		},
		{
			Name:    "translationdir",
			Fields:  []Field{{Name: "dir", Kind: Text, Required: true}},
			Handler: translationDir,
		},
		{
			Name:    "localenegotiator",
			Eager:   true,
			Fields:  []Field{{Name: "negotiator", Kind: Object, Required: true}},
			Handler: localeNegotiator,
		},
		{
			Name: "adapter",
			Fields: []Field{
				{Name: "factory", Kind: Tokens, Required: true},
				{Name: "provides", Kind: Interface},
				{Name: "for", Kind: Tokens},
				{Name: "name", Kind: Text, Default: ""},
			},
			Handler: adapter,
		},
		{
			Name: "subscriber",
			Fields: []Field{
				{Name: "factory", Kind: Object},
				{Name: "handler", Kind: Object},
				{Name: "provides", Kind: Interface},
				{Name: "for", Kind: Tokens},
			},
			Handler: subscriber,
		},
		{
			Name: "utility",
			Fields: []Field{
				{Name: "component", Kind: Object},
				{Name: "factory", Kind: Object},
				{Name: "provides", Kind: Interface},
				{Name: "name", Kind: Text, Default: ""},
			},
			Handler: utility,
		},
		{
			Name:    "default_permission",
			Eager:   true,
			Fields:  []Field{{Name: "name", Kind: Text, Required: true}},
			Handler: defaultPermission,
		},
	}
}

func systemViewFields() []Field {
	return []Field{
		{Name: "view", Kind: Object},
		{Name: "attr", Kind: Text},
		{Name: "renderer", Kind: Text},
		{Name: "wrapper", Kind: Text},
	}
}
