// Package action implements deferred configuration actions and the commit
// engine that resolves them.
//
// Directive handlers never register anything directly. They record an Action
// carrying a discriminator (the conflict-detection key), a callable and its
// arguments, an ordering hint, and the include path of the file that produced
// it. Commit groups the recorded actions by discriminator, applies override
// rules, reports conflicts, and finally runs the surviving callables ordered
// by (order, position).
//
//	st := action.NewState()
//	st.Add(action.Action{
//	    Discriminator: action.Key("utility", iface, ""),
//	    Callable:      register,
//	})
//	executed, err := st.Execute()
package action

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Ordering phases. Actions with a lower order run first; within one order
// actions run in the order they were recorded.
const (
	Phase0 = -30
	Phase1 = -20
	Phase2 = -10
	Phase3 = 0
)

// Callable performs the registration an action stands for.
type Callable func(args []any, kw map[string]any) error

// Keyer is implemented by values that know how to render themselves into a
// discriminator key. Interface specs implement it so two distinct specs with
// the same name never collide.
type Keyer interface {
	DiscriminatorKey() string
}

// Discriminator is the conflict-detection key of an action. The zero value is
// the null discriminator: actions carrying it never conflict.
type Discriminator struct {
	key  string
	text string
}

// Key builds a discriminator from its parts. Slices are rendered as tuples.
func Key(parts ...any) Discriminator {
	keys := make([]string, 0, len(parts))
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		k, t := keyPart(p)
		keys = append(keys, k)
		texts = append(texts, t)
	}
	return Discriminator{
		key:  "(" + strings.Join(keys, ", ") + ")",
		text: "(" + strings.Join(texts, ", ") + ")",
	}
}

func keyPart(p any) (string, string) {
	switch v := p.(type) {
	case nil:
		return "<nil>", "None"
	case Keyer:
		return v.DiscriminatorKey(), fmt.Sprint(v)
	case string:
		q := strconv.Quote(v)
		return q, q
	case bool:
		return strconv.FormatBool(v), strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v), strconv.Itoa(v)
	case reflect.Type:
		return "type:" + v.PkgPath() + "." + v.String(), v.String()
	case Discriminator:
		return v.key, v.text
	}

	rv := reflect.ValueOf(p)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		keys := make([]string, 0, rv.Len())
		texts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			k, t := keyPart(rv.Index(i).Interface())
			keys = append(keys, k)
			texts = append(texts, t)
		}
		return "(" + strings.Join(keys, ", ") + ")", "(" + strings.Join(texts, ", ") + ")"
	case reflect.Func:
		// Functions are not comparable; identify them by entry point.
		ptr := fmt.Sprintf("func@%x", rv.Pointer())
		return ptr, ptr
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return "<nil>", "None"
		}
		return fmt.Sprintf("%T@%x", p, rv.Pointer()), fmt.Sprintf("%v", p)
	}
	return fmt.Sprintf("%T:%v", p, p), fmt.Sprintf("%v", p)
}

// IsZero reports whether d is the null discriminator.
func (d Discriminator) IsZero() bool {
	return d.key == ""
}

// String returns a human-readable rendering of the discriminator.
func (d Discriminator) String() string {
	if d.IsZero() {
		return "None"
	}
	return d.text
}

// Introspectable is a descriptive record attached to an action. Introspection
// records are collected only when the configurator has introspection enabled.
type Introspectable struct {
	Category      string
	Discriminator string
	Title         string
	TypeName      string
	Data          map[string]any
}

// Action is one pending registration.
type Action struct {
	Discriminator   Discriminator
	Callable        Callable
	Args            []any
	Kw              map[string]any
	Order           int
	IncludePath     []string
	Info            string
	Introspectables []Introspectable
}

// Run executes the action callable. Actions without a callable only claim
// their discriminator.
func (a Action) Run() error {
	if a.Callable == nil {
		return nil
	}
	return a.Callable(a.Args, a.Kw)
}

// State accumulates actions until they are executed.
type State struct {
	Actions []Action
}

// NewState creates an empty action state.
func NewState() *State {
	return &State{}
}

// Add records an action.
func (s *State) Add(a Action) {
	s.Actions = append(s.Actions, a)
}

// Extend appends a batch of actions, preserving their order.
func (s *State) Extend(actions []Action) {
	s.Actions = append(s.Actions, actions...)
}

// Len returns the number of pending actions.
func (s *State) Len() int {
	return len(s.Actions)
}

// Execute resolves conflicts among the pending actions and runs the
// survivors. The pending list is cleared whether or not execution succeeds.
// It returns the actions that were run.
func (s *State) Execute() ([]Action, error) {
	pending := s.Actions
	s.Actions = nil

	resolved, err := Resolve(pending)
	if err != nil {
		return nil, err
	}

	for i, a := range resolved {
		if err := a.Run(); err != nil {
			return resolved[:i], &ExecutionError{
				Discriminator: a.Discriminator,
				Info:          a.Info,
				Err:           err,
			}
		}
	}
	return resolved, nil
}
