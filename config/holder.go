package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// field is a configuration value compared across reloads.
type field struct {
	name       string
	reloadable bool
	get        func(*Config) any
}

var fields = []field{
	{"server.host", false, func(c *Config) any { return c.Server.Host }},
	{"server.port", false, func(c *Config) any { return c.Server.Port }},
	{"server.read_timeout", false, func(c *Config) any { return c.Server.ReadTimeout }},
	{"server.write_timeout", false, func(c *Config) any { return c.Server.WriteTimeout }},
	{"app.package", false, func(c *Config) any { return c.App.Package }},
	{"app.package_dir", false, func(c *Config) any { return c.App.PackageDir }},
	{"app.configure_zcml", true, func(c *Config) any { return c.App.ConfigureZCML }},
	{"app.root", true, func(c *Config) any { return c.App.Root }},
	{"app.reload", false, func(c *Config) any { return c.App.Reload }},
	{"app.settings", true, func(c *Config) any { return c.App.Settings }},
	{"logging.level", true, func(c *Config) any { return c.Logging.Level }},
	{"logging.format", true, func(c *Config) any { return c.Logging.Format }},
	{"metrics.enabled", false, func(c *Config) any { return c.Metrics.Enabled }},
	{"metrics.path", true, func(c *Config) any { return c.Metrics.Path }},
	{"introspection.enabled", false, func(c *Config) any { return c.Introspection.Enabled }},
	{"introspection.dsn", false, func(c *Config) any { return c.Introspection.DSN }},
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return fieldNames(true)
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return fieldNames(false)
}

func fieldNames(reloadable bool) []string {
	var names []string
	for _, f := range fields {
		if f.reloadable == reloadable {
			names = append(names, f.name)
		}
	}
	return names
}

// Change describes a reload that altered the configuration.
type Change struct {
	Old, New *Config

	// Changed lists every field whose value differs.
	Changed []string

	// RestartRequired is the subset of Changed that only takes effect
	// after a restart.
	RestartRequired []string
}

// Diff compares two configurations field by field.
func Diff(old, new *Config) Change {
	ch := Change{Old: old, New: new}
	for _, f := range fields {
		if reflect.DeepEqual(f.get(old), f.get(new)) {
			continue
		}
		ch.Changed = append(ch.Changed, f.name)
		if !f.reloadable {
			ch.RestartRequired = append(ch.RestartRequired, f.name)
		}
	}
	return ch
}

// debounce collapses the bursts of events editors produce on save.
const debounce = 100 * time.Millisecond

// Holder keeps the current configuration and reloads it when the file
// changes or the process receives SIGHUP.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange []func(Change)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder for it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	return &Holder{
		config: cfg,
		path:   absPath,
		logger: logger.With().Str("config", absPath).Logger(),
		stopCh: make(chan struct{}),
	}, nil
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Reload reads the file again. An invalid file leaves the current
// configuration in place. Listeners are only called when a field changed.
func (h *Holder) Reload() error {
	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	ch := Diff(h.config, newCfg)
	if len(ch.Changed) == 0 {
		h.mu.Unlock()
		h.logger.Debug().Msg("configuration unchanged")
		return nil
	}
	h.config = newCfg
	listeners := append(([]func(Change))(nil), h.onChange...)
	h.mu.Unlock()

	h.logger.Info().Strs("changed", ch.Changed).Msg("configuration reloaded")
	if len(ch.RestartRequired) > 0 {
		h.logger.Warn().Strs("fields", ch.RestartRequired).Msg("restart required for some changes")
	}

	for _, fn := range listeners {
		fn(ch)
	}
	return nil
}

// OnChange registers fn to be called after each reload that changed the
// configuration.
func (h *Holder) OnChange(fn func(Change)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// WatchFile reloads the configuration whenever the file is written or
// replaced. The directory is watched so atomic saves are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher

	go h.watchLoop()

	h.logger.Info().Msg("watching config file for changes")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop is called.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().Str("event", event.Op.String()).Msg("config file changed")
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			h.Reload()

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
