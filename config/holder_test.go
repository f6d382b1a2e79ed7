package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Pylons/pyramid-zcml/config"
)

func newHolder(t *testing.T, content string) (*config.Holder, string) {
	t.Helper()
	path := writeConfig(t, content)
	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	t.Cleanup(h.Stop)
	return h, path
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestHolder_Get(t *testing.T) {
	h, _ := newHolder(t, validConfig())

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.App.Package != "myapp" {
		t.Errorf("App.Package = %s, want myapp", got.App.Package)
	}
}

func TestNewHolder_InvalidFile(t *testing.T) {
	path := writeConfig(t, "logging:\n  format: xml\n")
	if _, err := config.NewHolder(path, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestHolder_ReloadNotifiesChange(t *testing.T) {
	h, path := newHolder(t, validConfig())

	var changes []config.Change
	h.OnChange(func(ch config.Change) { changes = append(changes, ch) })

	rewrite(t, path, `
app:
  package: myapp
  configure_zcml: site.zcml
  settings:
    debug: true
server:
  port: 7000
`)
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if got := h.Get().App.ConfigureZCML; got != "site.zcml" {
		t.Errorf("ConfigureZCML = %s, want site.zcml", got)
	}
	if len(changes) != 1 {
		t.Fatalf("listener called %d times, want 1", len(changes))
	}
	ch := changes[0]
	if ch.Old.App.ConfigureZCML != "configure.zcml" || ch.New.App.ConfigureZCML != "site.zcml" {
		t.Errorf("Old/New = %s/%s", ch.Old.App.ConfigureZCML, ch.New.App.ConfigureZCML)
	}
	if !slices.Equal(ch.Changed, []string{"server.port", "app.configure_zcml"}) {
		t.Errorf("Changed = %v", ch.Changed)
	}
	if !slices.Equal(ch.RestartRequired, []string{"server.port"}) {
		t.Errorf("RestartRequired = %v", ch.RestartRequired)
	}
}

func TestHolder_ReloadUnchangedIsSilent(t *testing.T) {
	h, _ := newHolder(t, validConfig())

	called := false
	h.OnChange(func(config.Change) { called = true })

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if called {
		t.Error("listener called although nothing changed")
	}
}

func TestHolder_ReloadInvalidConfig(t *testing.T) {
	h, path := newHolder(t, validConfig())

	rewrite(t, path, "logging:\n  level: verbose\n")
	if err := h.Reload(); err == nil {
		t.Error("Reload should fail for invalid config")
	}
	if got := h.Get().App.Package; got != "myapp" {
		t.Errorf("should keep old config, got App.Package = %s", got)
	}
}

func TestHolder_WatchFile(t *testing.T) {
	h, path := newHolder(t, validConfig())

	changed := make(chan config.Change, 8)
	h.OnChange(func(ch config.Change) {
		select {
		case changed <- ch:
		default:
		}
	})

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	rewrite(t, path, "app:\n  package: myapp\n  configure_zcml: watched.zcml\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ch := <-changed:
			if ch.New.App.ConfigureZCML == "watched.zcml" {
				return
			}
		case <-deadline:
			t.Fatalf("file watcher did not reload; ConfigureZCML = %s", h.Get().App.ConfigureZCML)
		}
	}
}

func TestHolder_StopTwice(t *testing.T) {
	h, _ := newHolder(t, validConfig())
	if err := h.WatchFile(); err != nil {
		t.Fatal(err)
	}
	h.Stop()
	h.Stop()
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	h, _ := newHolder(t, validConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.OnChange(func(config.Change) {})
			_ = h.Reload()
		}()
	}

	wg.Wait()
}

func TestDiff(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			App: config.AppConfig{Package: "a", Settings: map[string]any{"x": 1}},
		}
	}

	if ch := config.Diff(base(), base()); len(ch.Changed) != 0 {
		t.Errorf("equal configs differ in %v", ch.Changed)
	}

	next := base()
	next.App.Settings["x"] = 2
	next.App.Package = "b"
	ch := config.Diff(base(), next)
	if !slices.Equal(ch.Changed, []string{"app.package", "app.settings"}) {
		t.Errorf("Changed = %v", ch.Changed)
	}
	if !slices.Equal(ch.RestartRequired, []string{"app.package"}) {
		t.Errorf("RestartRequired = %v", ch.RestartRequired)
	}
}

func TestReloadableFields(t *testing.T) {
	reloadable := config.ReloadableFields()
	for _, e := range []string{"app.configure_zcml", "app.settings", "logging.level"} {
		if !slices.Contains(reloadable, e) {
			t.Errorf("%s not in ReloadableFields", e)
		}
	}
	fixed := config.NonReloadableFields()
	for _, e := range []string{"server.host", "server.port", "app.package"} {
		if !slices.Contains(fixed, e) {
			t.Errorf("%s not in NonReloadableFields", e)
		}
	}
	for _, f := range reloadable {
		if slices.Contains(fixed, f) {
			t.Errorf("%s listed as both reloadable and not", f)
		}
	}
}

func validConfig() string {
	return `
app:
  package: myapp
  settings:
    debug: true
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
