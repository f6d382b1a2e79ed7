package i18n

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeCatalog(t *testing.T, dir, locale, domain, content string) {
	t.Helper()
	p := filepath.Join(dir, locale)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p, domain+".yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultNegotiator(t *testing.T) {
	r := httptest.NewRequest("GET", "/?_LOCALE_=fr", nil)
	if got := DefaultNegotiator(r); got != "fr" {
		t.Errorf("param = %q", got)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: LocaleParam, Value: "de"})
	if got := DefaultNegotiator(r); got != "de" {
		t.Errorf("cookie = %q", got)
	}

	if got := DefaultNegotiator(httptest.NewRequest("GET", "/", nil)); got != "" {
		t.Errorf("nothing = %q", got)
	}
}

func TestTranslations_AddDirsPrecedence(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeCatalog(t, first, "de", "messages", "Hello: Hallo (first)\n")
	writeCatalog(t, second, "de", "messages", "Hello: Hallo (second)\nBye: Tschüss\n")

	tr := NewTranslations(zerolog.Nop())
	if err := tr.AddDirs(first, second); err != nil {
		t.Fatal(err)
	}
	loc := tr.Localizer("de")
	if got := loc.Translate("Hello", "messages", nil); got != "Hallo (first)" {
		t.Errorf("earlier directory should win, got %q", got)
	}
	if got := loc.Translate("Bye", "messages", nil); got != "Tschüss" {
		t.Errorf("Translate(Bye) = %q", got)
	}

	later := t.TempDir()
	writeCatalog(t, later, "de", "messages", "Hello: Servus\n")
	if err := tr.AddDirs(later); err != nil {
		t.Fatal(err)
	}
	if got := tr.Localizer("de").Translate("Hello", "messages", nil); got != "Servus" {
		t.Errorf("later call should take precedence, got %q", got)
	}
	if dirs := tr.Dirs(); dirs[0] != later {
		t.Errorf("Dirs() = %v", dirs)
	}
}

func TestTranslations_AddDirsErrors(t *testing.T) {
	tr := NewTranslations(zerolog.Nop())
	if err := tr.AddDirs(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing directory should fail")
	}

	file := filepath.Join(t.TempDir(), "file")
	_ = os.WriteFile(file, nil, 0o644)
	if err := tr.AddDirs(file); err == nil {
		t.Error("a file is not a translation directory")
	}

	bad := t.TempDir()
	writeCatalog(t, bad, "de", "messages", "[not a map")
	if err := tr.AddDirs(bad); err == nil {
		t.Error("malformed catalog should fail")
	}
}

func TestLocalizer_FallbackAndMapping(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "de", "messages", "Hello ${name}: Hallo ${name}\nColor: Farbe\n")
	writeCatalog(t, dir, "de_AT", "messages", "Hello ${name}: Servus ${name}\n")

	tr := NewTranslations(zerolog.Nop())
	if err := tr.AddDirs(dir); err != nil {
		t.Fatal(err)
	}

	at := tr.Localizer("de_AT")
	if got := at.Translate("Hello ${name}", "messages", map[string]string{"name": "Fred"}); got != "Servus Fred" {
		t.Errorf("regional = %q", got)
	}
	if got := at.Translate("Color", "messages", nil); got != "Farbe" {
		t.Errorf("language fallback = %q", got)
	}
	if got := at.Translate("Unknown", "messages", nil); got != "Unknown" {
		t.Errorf("untranslated = %q", got)
	}
}

func TestTranslations_Negotiate(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "de", "messages", "a: b\n")
	writeCatalog(t, dir, "pt_BR", "messages", "a: b\n")

	tr := NewTranslations(zerolog.Nop())
	if err := tr.AddDirs(dir); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		url    string
		accept string
		want   string
	}{
		{"param wins", "/?_LOCALE_=fr", "de", "fr"},
		{"accept language", "/", "pt-BR,pt;q=0.9", "pt_BR"},
		{"accept language base", "/", "de-CH", "de"},
		{"no header", "/", "", DefaultLocale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if tt.accept != "" {
				r.Header.Set("Accept-Language", tt.accept)
			}
			if got := tr.Negotiate(r, nil); got != tt.want {
				t.Errorf("Negotiate() = %q, want %q", got, tt.want)
			}
		})
	}

	custom := func(*http.Request) string { return "xx" }
	if got := tr.Negotiate(httptest.NewRequest("GET", "/", nil), custom); got != "xx" {
		t.Errorf("custom negotiator = %q", got)
	}
}
