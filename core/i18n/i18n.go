// Package i18n loads message catalogs from translation directories and
// picks the locale of a request.
//
// A translation directory holds one subdirectory per locale, each holding
// one YAML file per message domain:
//
//	locale/
//	  de/
//	    messages.yaml   # msgid: translation
//	  pt_BR/
//	    messages.yaml
package i18n

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// LocaleParam is the request parameter and cookie consulted by
// DefaultNegotiator.
const LocaleParam = "_LOCALE_"

// DefaultLocale is used when negotiation finds nothing.
const DefaultLocale = "en"

// Negotiator returns the locale name for a request, or "" if it cannot tell.
type Negotiator func(r *http.Request) string

// DefaultNegotiator reads the _LOCALE_ query parameter, then the _LOCALE_
// cookie.
func DefaultNegotiator(r *http.Request) string {
	if v := r.URL.Query().Get(LocaleParam); v != "" {
		return v
	}
	if c, err := r.Cookie(LocaleParam); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

// catalog maps domain -> msgid -> translation.
type catalog map[string]map[string]string

// Translations holds the catalogs of all registered translation directories.
// Directories earlier in the list take precedence.
type Translations struct {
	mu       sync.RWMutex
	dirs     []string
	catalogs map[string]catalog
	logger   zerolog.Logger
}

// NewTranslations creates an empty translation set.
func NewTranslations(logger zerolog.Logger) *Translations {
	return &Translations{
		catalogs: make(map[string]catalog),
		logger:   logger,
	}
}

// AddDirs registers translation directories. The directories of one call
// keep their order and precede the directories of earlier calls.
func (t *Translations) AddDirs(dirs ...string) error {
	for _, d := range dirs {
		info, err := os.Stat(d)
		if err != nil {
			return fmt.Errorf("translation directory %q: %w", d, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("translation directory %q is not a directory", d)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.dirs = append(append([]string(nil), dirs...), t.dirs...)
	return t.reload()
}

// Dirs returns the registered directories in precedence order.
func (t *Translations) Dirs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.dirs...)
}

// reload rebuilds the catalogs, lowest precedence first so higher
// precedence directories overwrite.
func (t *Translations) reload() error {
	catalogs := make(map[string]catalog)
	for i := len(t.dirs) - 1; i >= 0; i-- {
		if err := loadDir(t.dirs[i], catalogs); err != nil {
			return err
		}
	}
	t.catalogs = catalogs
	t.logger.Debug().Int("dirs", len(t.dirs)).Int("locales", len(catalogs)).Msg("translations loaded")
	return nil
}

func loadDir(dir string, into map[string]catalog) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read translation directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		locale := e.Name()
		files, err := filepath.Glob(filepath.Join(dir, locale, "*.yaml"))
		if err != nil {
			return err
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return fmt.Errorf("read catalog: %w", err)
			}
			var msgs map[string]string
			if err := yaml.Unmarshal(data, &msgs); err != nil {
				return fmt.Errorf("parse catalog %s: %w", f, err)
			}
			domain := strings.TrimSuffix(filepath.Base(f), ".yaml")
			cat := into[locale]
			if cat == nil {
				cat = make(catalog)
				into[locale] = cat
			}
			if cat[domain] == nil {
				cat[domain] = make(map[string]string)
			}
			for k, v := range msgs {
				cat[domain][k] = v
			}
		}
	}
	return nil
}

// Locales returns the locales that have at least one catalog.
func (t *Translations) Locales() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.catalogs))
	for l := range t.catalogs {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Negotiate picks the locale for r: the negotiator's answer, then the best
// Accept-Language match among the available locales, then DefaultLocale.
func (t *Translations) Negotiate(r *http.Request, negotiator Negotiator) string {
	if negotiator == nil {
		negotiator = DefaultNegotiator
	}
	if l := negotiator(r); l != "" {
		return l
	}

	locales := t.Locales()
	header := r.Header.Get("Accept-Language")
	if header == "" || len(locales) == 0 {
		return DefaultLocale
	}
	prefs, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(prefs) == 0 {
		return DefaultLocale
	}

	tags := make([]language.Tag, 0, len(locales))
	names := make([]string, 0, len(locales))
	for _, l := range locales {
		tag, err := language.Parse(strings.ReplaceAll(l, "_", "-"))
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		names = append(names, l)
	}
	if len(tags) == 0 {
		return DefaultLocale
	}
	_, idx, conf := language.NewMatcher(tags).Match(prefs...)
	if conf == language.No {
		return DefaultLocale
	}
	return names[idx]
}

// Localizer translates messages for one locale.
type Localizer struct {
	Locale   string
	catalogs catalog
}

// Localizer returns the localizer for locale. A region-specific locale
// falls back to its language ("de_AT" to "de").
func (t *Translations) Localizer(locale string) *Localizer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	merged := make(catalog)
	if base, _, ok := strings.Cut(locale, "_"); ok {
		mergeCatalog(merged, t.catalogs[base])
	}
	mergeCatalog(merged, t.catalogs[locale])
	return &Localizer{Locale: locale, catalogs: merged}
}

func mergeCatalog(dst, src catalog) {
	for domain, msgs := range src {
		if dst[domain] == nil {
			dst[domain] = make(map[string]string, len(msgs))
		}
		for k, v := range msgs {
			dst[domain][k] = v
		}
	}
}

// Translate returns the translation of msgid in domain, or msgid itself.
// ${name} placeholders are replaced from mapping.
func (l *Localizer) Translate(msgid, domain string, mapping map[string]string) string {
	out := msgid
	if tr, ok := l.catalogs[domain][msgid]; ok && tr != "" {
		out = tr
	}
	for k, v := range mapping {
		out = strings.ReplaceAll(out, "${"+k+"}", v)
	}
	return out
}
