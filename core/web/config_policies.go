package web

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/asset"
	"github.com/Pylons/pyramid-zcml/core/component"
	"github.com/Pylons/pyramid-zcml/core/i18n"
	"github.com/Pylons/pyramid-zcml/core/render"
	"github.com/Pylons/pyramid-zcml/core/security"
)

// setUtility records the registration of a singleton utility.
func (c *Configurator) setUtility(provided *component.Interface, name string, value any, order int) error {
	info := c.Info
	discriminator := action.Key(provided)
	if name != "" {
		discriminator = action.Key(provided, name)
	}
	return c.Action(action.Action{
		Discriminator: discriminator,
		Order:         order,
		Callable: func([]any, map[string]any) error {
			return c.Registry.RegisterUtility(value, provided, name, info, nil)
		},
		Introspectables: []action.Introspectable{{
			Category:      "utilities",
			Discriminator: discriminator.String(),
			Title:         fmt.Sprintf("%s %q", provided, name),
			TypeName:      fmt.Sprintf("%T", value),
		}},
	})
}

// SetAuthenticationPolicy installs the authentication policy.
func (c *Configurator) SetAuthenticationPolicy(policy security.AuthenticationPolicy) error {
	if policy == nil {
		return c.locate(action.Errorf("authentication policy is required"))
	}
	return c.setUtility(IAuthenticationPolicy, "", policy, action.Phase2)
}

// SetAuthorizationPolicy installs the authorization policy.
func (c *Configurator) SetAuthorizationPolicy(policy security.AuthorizationPolicy) error {
	if policy == nil {
		return c.locate(action.Errorf("authorization policy is required"))
	}
	return c.setUtility(IAuthorizationPolicy, "", policy, action.Phase2)
}

// SetDefaultPermission sets the permission of views registered without
// one.
func (c *Configurator) SetDefaultPermission(permission string) error {
	return c.setUtility(IDefaultPermission, "", permission, action.Phase1)
}

// AddRenderer registers a renderer factory under name. The empty name
// registers the default renderer. factory may be a dotted name.
func (c *Configurator) AddRenderer(name string, factory any) error {
	v, err := c.MaybeDotted(factory)
	if err != nil {
		return err
	}
	var f render.Factory
	switch fv := v.(type) {
	case render.Factory:
		f = fv
	case func(render.Info) (render.Renderer, error):
		f = fv
	default:
		return c.locate(action.Errorf("renderer factory %q has unsupported type %T", name, v))
	}
	return c.setUtility(IRendererFactory, name, f, action.Phase1)
}

// OverrideAsset makes overrideWith shadow toOverride. Both are asset
// specs; a bare package name stands for the whole package.
func (c *Configurator) OverrideAsset(toOverride, overrideWith string) error {
	if err := asset.ValidateOverride(toOverride, overrideWith); err != nil {
		return c.locate(err)
	}
	info := c.Info
	return c.Action(action.Action{
		Order: action.Phase1,
		Callable: func([]any, map[string]any) error {
			return c.Registry.Assets.Overrides.Insert(toOverride, overrideWith, info)
		},
		Introspectables: []action.Introspectable{{
			Category: "asset overrides",
			Title:    toOverride + " -> " + overrideWith,
			TypeName: "override",
		}},
	})
}

// AddTranslationDirs adds directories of message catalogs. Each entry is
// an asset spec or a path; relative paths resolve against the package.
func (c *Configurator) AddTranslationDirs(specs ...string) error {
	dirs := make([]string, 0, len(specs))
	for _, spec := range specs {
		var dir string
		switch {
		case asset.IsSpec(spec):
			p, err := c.Registry.Assets.Abs(spec, c.PackageName())
			if err != nil {
				return c.locate(err)
			}
			dir = p
		case filepath.IsAbs(spec):
			dir = spec
		default:
			dir = filepath.Join(c.BasePath, spec)
		}
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return c.locate(action.Errorf("translation directory %q does not exist", spec))
		}
		dirs = append(dirs, dir)
	}
	info := c.Info
	return c.Action(action.Action{
		Callable: func([]any, map[string]any) error {
			if err := c.Registry.Translations.AddDirs(dirs...); err != nil {
				return fmt.Errorf("add translation dirs (%s): %w", info, err)
			}
			return nil
		},
	})
}

// SetLocaleNegotiator installs the locale negotiator. negotiator may be a
// dotted name.
func (c *Configurator) SetLocaleNegotiator(negotiator any) error {
	v, err := c.MaybeDotted(negotiator)
	if err != nil {
		return err
	}
	var n i18n.Negotiator
	switch nv := v.(type) {
	case i18n.Negotiator:
		n = nv
	case func(*http.Request) string:
		n = nv
	case func(*Request) string:
		reg := c.Registry
		n = func(r *http.Request) string { return nv(NewRequest(r, reg)) }
	default:
		return c.locate(action.Errorf("locale negotiator has unsupported type %T", v))
	}
	return c.setUtility(ILocaleNegotiator, "", n, action.Phase3)
}
