// Package bootstrap wires configuration, metrics and introspection around a
// configuration-file driven application and serves it over HTTP.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Pylons/pyramid-zcml/adapters/clock"
	"github.com/Pylons/pyramid-zcml/adapters/idgen"
	"github.com/Pylons/pyramid-zcml/adapters/metrics"
	"github.com/Pylons/pyramid-zcml/adapters/sqlite"
	"github.com/Pylons/pyramid-zcml/config"
	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/symbol"
	"github.com/Pylons/pyramid-zcml/core/web"
	"github.com/Pylons/pyramid-zcml/core/zcml"
	"github.com/Pylons/pyramid-zcml/ports"
)

// Environment variables read before any configuration file is loaded.
const (
	EnvLogLevel  = "ZCML_LOG_LEVEL"
	EnvLogFormat = "ZCML_LOG_FORMAT"
)

// Options configures New.
type Options struct {
	// Config is used as is. When nil it is loaded from ConfigPath, or from
	// the environment.
	Config *config.Config

	// ConfigPath enables hot reload of the YAML configuration.
	ConfigPath string

	// Symbols holds the application's dotted names. Defaults to symbol.Default.
	Symbols *symbol.Table

	Logger *zerolog.Logger

	// Registry receives the Prometheus collectors instead of the global
	// registry.
	Registry *prometheus.Registry

	IDs   ports.IDGenerator
	Clock ports.Clock
}

// App is the running application.
type App struct {
	Logger     zerolog.Logger
	Symbols    *symbol.Table
	Metrics    *metrics.Collector
	DB         *sqlite.DB
	Store      *sqlite.IntrospectionStore
	HTTPServer *http.Server

	cfg      atomic.Pointer[config.Config]
	handler  atomic.Pointer[web.App]
	reloadMu sync.Mutex
	holder   *config.Holder
	watcher  *fsnotify.Watcher
	recorder *RunRecorder
	ids      ports.IDGenerator
	clock    ports.Clock
	stopCh   chan struct{}
}

// New builds the application described by opts: the configuration file
// named by app.configure_zcml is loaded and committed, and the result is
// served by HTTPServer.
func New(opts Options) (*App, error) {
	logger := setupLoggerFromEnv()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	cfg := opts.Config
	var holder *config.Holder
	if cfg == nil {
		var err error
		if opts.ConfigPath != "" {
			holder, err = config.NewHolder(opts.ConfigPath, logger)
			if err == nil {
				cfg = holder.Get()
			}
		} else {
			cfg, err = config.LoadFromEnv()
		}
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if opts.Logger == nil {
		logger = NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	}

	if opts.Symbols == nil {
		opts.Symbols = symbol.Default
	}
	if opts.IDs == nil {
		opts.IDs = idgen.UUID{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	a := &App{
		Logger:  logger,
		Symbols: opts.Symbols,
		holder:  holder,
		ids:     opts.IDs,
		clock:   opts.Clock,
		stopCh:  make(chan struct{}),
	}
	a.cfg.Store(cfg)

	logger.Info().
		Str("package", cfg.App.Package).
		Str("configure_zcml", cfg.App.ConfigureZCML).
		Msg("initializing application")

	if cfg.Metrics.Enabled {
		if opts.Registry != nil {
			a.Metrics = metrics.NewWithRegistry(opts.Registry)
		} else {
			a.Metrics = metrics.New()
		}
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	if cfg.Introspection.Enabled {
		if err := a.initIntrospection(cfg.Introspection.DSN); err != nil {
			return nil, fmt.Errorf("init introspection: %w", err)
		}
	}

	if err := a.rebuild(cfg); err != nil {
		a.close()
		return nil, err
	}

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if holder != nil {
		holder.OnChange(a.applyConfig)
	}
	return a, nil
}

func (a *App) initIntrospection(dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	a.DB = db
	a.Store = sqlite.NewIntrospectionStore(db)
	a.recorder = NewRunRecorder(a.Store, a.Logger, 0, 0)
	return nil
}

// Config returns the configuration the current handler was built from.
func (a *App) Config() *config.Config {
	return a.cfg.Load()
}

// Handler returns the current application handler.
func (a *App) Handler() *web.App {
	return a.handler.Load()
}

// ServeHTTP dispatches to the current handler, which Reload replaces.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.Load().ServeHTTP(w, r)
}

// Reload rebuilds the application from the current configuration. On
// failure the previous handler keeps serving.
func (a *App) Reload() error {
	return a.rebuild(a.cfg.Load())
}

// applyConfig rebuilds the application for a reloaded configuration.
// Fields that need a restart keep their old effect until then.
func (a *App) applyConfig(ch config.Change) {
	next := *ch.New
	next.App.Package = ch.Old.App.Package
	next.App.PackageDir = ch.Old.App.PackageDir
	cfg := &next
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if err := a.rebuild(cfg); err != nil {
		a.Logger.Error().Err(err).Msg("rebuild after config change failed")
		return
	}
	a.cfg.Store(cfg)
}

func (a *App) rebuild(cfg *config.Config) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	start := a.clock.Now()
	var m ports.Metrics = ports.NopMetrics{}
	if a.Metrics != nil {
		m = a.Metrics
	}

	app, executed, err := Build(cfg, a.Symbols, a.Logger, m, a.metricsOptions(cfg))
	if a.Metrics != nil && a.handler.Load() != nil {
		a.Metrics.Reloaded(a.clock.Now(), err)
	}
	if err != nil {
		return err
	}

	a.handler.Store(app)
	a.record(cfg, executed)
	a.Logger.Info().
		Int("actions", len(executed)).
		Dur("took", a.clock.Now().Sub(start)).
		Msg("application built")
	return nil
}

func (a *App) metricsOptions(cfg *config.Config) web.AppOptions {
	opts := web.AppOptions{IDs: a.ids, Clock: a.clock}
	if a.Metrics != nil {
		opts.Metrics = a.Metrics
		opts.MetricsHandler = a.Metrics.Handler()
		opts.MetricsPath = cfg.Metrics.Path
	}
	return opts
}

func (a *App) record(cfg *config.Config, executed []action.Action) {
	if a.recorder == nil {
		return
	}
	run := ports.Run{
		ID:        a.ids.New(),
		Source:    cfg.App.ConfigureZCML,
		Actions:   len(executed),
		CreatedAt: a.clock.Now(),
	}
	a.recorder.Record(run, ActionRecords(run.ID, executed))
}

// Build loads cfg's configuration file into a new registry, commits it and
// creates the application. It returns the executed actions.
func Build(cfg *config.Config, symbols *symbol.Table, logger zerolog.Logger, m ports.Metrics, opts web.AppOptions) (*web.App, []action.Action, error) {
	c, err := NewConfigurator(cfg, symbols, logger, m)
	if err != nil {
		return nil, nil, err
	}
	if _, err := zcml.Load(c, cfg.App.ConfigureZCML); err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", cfg.App.ConfigureZCML, err)
	}
	executed, err := c.Commit()
	if err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	app, err := c.MakeApp(opts)
	if err != nil {
		return nil, nil, err
	}
	return app, executed, nil
}

// NewConfigurator prepares a configurator for cfg's application package:
// the package is registered in symbols, settings are copied, the root
// factory is set and the "load_zcml" directive is installed.
func NewConfigurator(cfg *config.Config, symbols *symbol.Table, logger zerolog.Logger, m ports.Metrics) (*web.Configurator, error) {
	dir, err := filepath.Abs(cfg.App.PackageDir)
	if err != nil {
		return nil, fmt.Errorf("package dir: %w", err)
	}
	pkg := symbols.RegisterPackage(cfg.App.Package, dir)

	reg := web.NewRegistry(cfg.App.Package, symbols, logger)
	for k, v := range cfg.App.Settings {
		reg.Settings[k] = v
	}

	c := web.NewConfigurator(reg, pkg)
	c.Metrics = m
	if cfg.App.Root != "" {
		v, err := c.MaybeDotted(cfg.App.Root)
		if err != nil {
			return nil, fmt.Errorf("root factory: %w", err)
		}
		var factory web.RootFactory
		switch f := v.(type) {
		case web.RootFactory:
			factory = f
		case func(*web.Request) any:
			factory = f
		default:
			return nil, fmt.Errorf("root factory %s has unsupported type %T", cfg.App.Root, v)
		}
		if err := c.SetRootFactory(factory); err != nil {
			return nil, err
		}
	}
	if err := zcml.Includeme(c); err != nil {
		return nil, err
	}
	return c, nil
}

// WatchConfigurationFiles rebuilds the application when a .zcml file in
// the package directory changes.
func (a *App) WatchConfigurationFiles() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir, err := filepath.Abs(a.Config().App.PackageDir)
	if err != nil {
		watcher.Close()
		return err
	}
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	a.watcher = watcher

	go a.watchLoop()

	a.Logger.Info().Str("dir", dir).Msg("watching configuration files for changes")
	return nil
}

func (a *App) watchLoop() {
	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".zcml") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			a.Logger.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("configuration file changed")
			if err := a.Reload(); err != nil {
				a.Logger.Error().Err(err).Msg("reload failed, keeping previous application")
			}

		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.Logger.Error().Err(err).Msg("file watcher error")

		case <-a.stopCh:
			return
		}
	}
}

// Run serves until SIGINT or SIGTERM, then shuts down.
func (a *App) Run() error {
	cfg := a.Config()
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.holder.WatchSignals()
	}
	if cfg.App.Reload {
		if err := a.WatchConfigurationFiles(); err != nil {
			a.Logger.Warn().Err(err).Msg("configuration file watch disabled")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown stops the server and releases resources.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}
	a.close()

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func (a *App) close() {
	select {
	case <-a.stopCh:
		return
	default:
		close(a.stopCh)
	}

	if a.holder != nil {
		a.holder.Stop()
	}
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("introspection recorder close error")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}
}

// NewLogger creates a logger writing JSON, or human readable output when
// format is "console", to stdout. It also sets the global level.
func NewLogger(levelStr, format string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupLoggerFromEnv() zerolog.Logger {
	return NewLogger(os.Getenv(EnvLogLevel), os.Getenv(EnvLogFormat))
}
