package action

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type keyed struct{ name string }

func (k *keyed) DiscriminatorKey() string { return "keyed:" + k.name }
func (k *keyed) String() string           { return k.name }

func recorder(log *[]string, name string) Callable {
	return func(args []any, kw map[string]any) error {
		*log = append(*log, name)
		return nil
	}
}

func TestKey(t *testing.T) {
	a := Key("utility", "IFoo", "")
	b := Key("utility", "IFoo", "")
	if a != b {
		t.Errorf("equal parts should give equal discriminators: %v != %v", a, b)
	}

	if Key("utility", "IFoo", "x") == a {
		t.Error("different names should give different discriminators")
	}

	// Two keyers with the same text but distinct identities stay distinct
	// when their keys differ.
	k1, k2 := &keyed{"one"}, &keyed{"two"}
	if Key("adapter", k1) == Key("adapter", k2) {
		t.Error("distinct keyers should give distinct discriminators")
	}

	tuple := Key("adapter", []any{k1, k2}, "name")
	if got := tuple.String(); got != `("adapter", (one, two), "name")` {
		t.Errorf("String() = %s", got)
	}

	if Key(reflect.TypeOf(0)) == Key(reflect.TypeOf("")) {
		t.Error("type parts should be distinguished")
	}
}

func TestDiscriminatorZero(t *testing.T) {
	var d Discriminator
	if !d.IsZero() {
		t.Error("zero value should be the null discriminator")
	}
	if d.String() != "None" {
		t.Errorf("String() = %q, want None", d.String())
	}
	if Key().IsZero() {
		t.Error("Key() with no parts is still a discriminator")
	}
}

func TestResolve_OrdersByPhaseThenPosition(t *testing.T) {
	actions := []Action{
		{Discriminator: Key("a"), Info: "a"},
		{Discriminator: Key("b"), Info: "b", Order: Phase1},
		{Info: "c"},
		{Discriminator: Key("d"), Info: "d", Order: Phase2},
	}

	got, err := Resolve(actions)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	var infos []string
	for _, a := range got {
		infos = append(infos, a.Info)
	}
	want := []string{"b", "d", "a", "c"}
	if !reflect.DeepEqual(infos, want) {
		t.Errorf("order = %v, want %v", infos, want)
	}
}

func TestResolve_Conflict(t *testing.T) {
	actions := []Action{
		{Discriminator: Key("utility", "IFoo", ""), Info: "first"},
		{Discriminator: Key("utility", "IFoo", ""), Info: "second"},
		{Discriminator: Key("utility", "IFoo", "named"), Info: "third"},
	}

	_, err := Resolve(actions)
	if err == nil {
		t.Fatal("Resolve() should report a conflict")
	}

	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *ConflictError", err)
	}
	if len(ce.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(ce.Conflicts))
	}
	infos := ce.Conflicts[Key("utility", "IFoo", "")]
	if !reflect.DeepEqual(infos, []string{"first", "second"}) {
		t.Errorf("infos = %v", infos)
	}
	if !strings.Contains(err.Error(), "first") || !strings.Contains(err.Error(), "second") {
		t.Errorf("message should name both actions: %s", err)
	}
	if !IsConflict(err) {
		t.Error("IsConflict() = false")
	}
}

func TestResolve_IncludingFileOverrides(t *testing.T) {
	actions := []Action{
		{Discriminator: Key("view", "x"), Info: "included", IncludePath: []string{"configure.zcml", "views.zcml"}},
		{Discriminator: Key("view", "x"), Info: "including", IncludePath: []string{"configure.zcml"}},
	}

	got, err := Resolve(actions)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 1 || got[0].Info != "including" {
		t.Errorf("winner = %+v, want the including action", got)
	}
}

func TestResolve_SiblingIncludesConflict(t *testing.T) {
	actions := []Action{
		{Discriminator: Key("view", "x"), Info: "a", IncludePath: []string{"configure.zcml", "a.zcml"}},
		{Discriminator: Key("view", "x"), Info: "b", IncludePath: []string{"configure.zcml", "b.zcml"}},
	}

	if _, err := Resolve(actions); !IsConflict(err) {
		t.Errorf("Resolve() error = %v, want conflict", err)
	}
}

func TestResolve_NullDiscriminatorsNeverConflict(t *testing.T) {
	actions := []Action{{Info: "one"}, {Info: "two"}, {Info: "three"}}

	got, err := Resolve(actions)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d actions, want 3", len(got))
	}
}

func TestState_Execute(t *testing.T) {
	var log []string
	st := NewState()
	st.Add(Action{Discriminator: Key("two"), Callable: recorder(&log, "two")})
	st.Add(Action{Discriminator: Key("one"), Callable: recorder(&log, "one"), Order: Phase1})
	st.Extend([]Action{{Callable: recorder(&log, "three")}})

	if st.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", st.Len())
	}

	executed, err := st.Execute()
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(executed) != 3 {
		t.Errorf("executed %d actions, want 3", len(executed))
	}
	if !reflect.DeepEqual(log, []string{"one", "two", "three"}) {
		t.Errorf("run order = %v", log)
	}
	if st.Len() != 0 {
		t.Error("Execute() should clear pending actions")
	}
}

func TestState_ExecuteArgs(t *testing.T) {
	var gotArgs []any
	var gotKw map[string]any
	st := NewState()
	st.Add(Action{
		Callable: func(args []any, kw map[string]any) error {
			gotArgs, gotKw = args, kw
			return nil
		},
		Args: []any{"component", "name"},
		Kw:   map[string]any{"factory": "f"},
	})

	if _, err := st.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !reflect.DeepEqual(gotArgs, []any{"component", "name"}) {
		t.Errorf("args = %v", gotArgs)
	}
	if gotKw["factory"] != "f" {
		t.Errorf("kw = %v", gotKw)
	}
}

func TestState_ExecuteError(t *testing.T) {
	boom := errors.New("boom")
	st := NewState()
	st.Add(Action{
		Discriminator: Key("bad"),
		Info:          "file.zcml:3",
		Callable:      func([]any, map[string]any) error { return boom },
	})

	_, err := st.Execute()
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("error type = %T, want *ExecutionError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("ExecutionError should unwrap to the callable's error")
	}
	if !strings.Contains(err.Error(), "file.zcml:3") {
		t.Errorf("message should carry info: %s", err)
	}
	if st.Len() != 0 {
		t.Error("pending actions should be cleared after a failed execute")
	}
}

func TestState_ExecuteConflictRunsNothing(t *testing.T) {
	var log []string
	st := NewState()
	st.Add(Action{Discriminator: Key("x"), Callable: recorder(&log, "a")})
	st.Add(Action{Discriminator: Key("x"), Callable: recorder(&log, "b")})

	if _, err := st.Execute(); !IsConflict(err) {
		t.Fatalf("Execute() error = %v, want conflict", err)
	}
	if len(log) != 0 {
		t.Errorf("no action should run on conflict, ran %v", log)
	}
}

func TestConfigurationError(t *testing.T) {
	err := Errorf("route directive must include a %q", "pattern")
	if err.Error() != `route directive must include a "pattern"` {
		t.Errorf("Error() = %q", err.Error())
	}

	located := err.WithInfo("configure.zcml:4")
	if !strings.Contains(located.Error(), "configure.zcml:4") {
		t.Errorf("WithInfo() message = %q", located.Error())
	}
	if err.Info != "" {
		t.Error("WithInfo() should not modify the receiver")
	}
	if again := located.WithInfo("other"); again.Info != "configure.zcml:4" {
		t.Error("WithInfo() should keep an existing location")
	}

	wrapped := &ConfigurationError{Msg: "cannot import", Err: errors.New("missing")}
	if !IsConfigurationError(wrapped) || wrapped.Unwrap() == nil {
		t.Error("wrapped configuration error should unwrap")
	}
}
