package security

// ACE is one access control entry.
type ACE struct {
	Action      string
	Principal   string
	Permissions []string
}

// Matches reports whether the entry covers permission.
func (a ACE) Matches(permission string) bool {
	for _, p := range a.Permissions {
		if p == permission || p == AllPermissions {
			return true
		}
	}
	return false
}

// DenyAll denies every permission to everyone.
var DenyAll = ACE{Action: Deny, Principal: Everyone, Permissions: []string{AllPermissions}}

// ACLProvider is implemented by contexts carrying an access control list.
type ACLProvider interface {
	ACL() []ACE
}

// Locatable is implemented by contexts that live in a resource tree.
type Locatable interface {
	Parent() any
}

// Lineage returns context followed by its parents up to the root.
func Lineage(context any) []any {
	var out []any
	for context != nil {
		out = append(out, context)
		loc, ok := context.(Locatable)
		if !ok {
			break
		}
		context = loc.Parent()
	}
	return out
}

// ACLPolicy authorizes using the ACLs found along the context lineage.
type ACLPolicy struct{}

// NewACLPolicy creates an ACL authorization policy.
func NewACLPolicy() *ACLPolicy { return &ACLPolicy{} }

// Permits walks the lineage from context to root; the first ACE naming one
// of principals and covering permission decides. No match denies.
func (ACLPolicy) Permits(context any, principals []string, permission string) bool {
	held := make(map[string]bool, len(principals))
	for _, p := range principals {
		held[p] = true
	}
	for _, loc := range Lineage(context) {
		provider, ok := loc.(ACLProvider)
		if !ok {
			continue
		}
		for _, ace := range provider.ACL() {
			if held[ace.Principal] && ace.Matches(permission) {
				return ace.Action == Allow
			}
		}
	}
	return false
}

// PrincipalsAllowedByPermission returns the principals granted permission
// on context, evaluating ACLs from the root down.
func (ACLPolicy) PrincipalsAllowedByPermission(context any, permission string) []string {
	allowed := make(map[string]bool)
	lineage := Lineage(context)
	for i := len(lineage) - 1; i >= 0; i-- {
		provider, ok := lineage[i].(ACLProvider)
		if !ok {
			continue
		}
		allowedHere := make(map[string]bool)
		deniedHere := make(map[string]bool)
		for _, ace := range provider.ACL() {
			if !ace.Matches(permission) {
				continue
			}
			if ace.Action == Allow {
				if !deniedHere[ace.Principal] {
					allowedHere[ace.Principal] = true
				}
				continue
			}
			deniedHere[ace.Principal] = true
			if ace.Principal == Everyone {
				allowed = make(map[string]bool)
				break
			}
			delete(allowed, ace.Principal)
		}
		for p := range allowedHere {
			allowed[p] = true
		}
	}
	return sortedKeys(allowed)
}
