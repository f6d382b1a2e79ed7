package web

import "strings"

// Traversable is implemented by resources with children.
type Traversable interface {
	Get(name string) (any, bool)
}

// DefaultRoot is the root resource when no root factory is configured.
type DefaultRoot struct{}

// Parent returns nil: the default root has no parent.
func (*DefaultRoot) Parent() any { return nil }

// TraversalResult is the outcome of resource-tree traversal.
type TraversalResult struct {
	Context   any
	ViewName  string
	Subpath   []string
	Traversed []string
}

// Traverse walks segments from root. The first segment that is not a child
// of the current resource becomes the view name, the rest the subpath. A
// segment starting with "@@" is always a view name.
func Traverse(root any, segments []string) TraversalResult {
	res := TraversalResult{Context: root}
	for i, seg := range segments {
		if strings.HasPrefix(seg, "@@") {
			res.ViewName = seg[2:]
			res.Subpath = segments[i+1:]
			return res
		}
		t, ok := res.Context.(Traversable)
		if !ok {
			res.ViewName = seg
			res.Subpath = segments[i+1:]
			return res
		}
		next, ok := t.Get(seg)
		if !ok {
			res.ViewName = seg
			res.Subpath = segments[i+1:]
			return res
		}
		res.Context = next
		res.Traversed = append(res.Traversed, seg)
	}
	return res
}
