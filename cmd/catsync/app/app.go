// Package app wires the catsync CLI: configuration, logging, the local
// store, the remote transport and the sync client.
package app

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/catsync"
	"github.com/agentstation/catsync/internal/config"
	remotemem "github.com/agentstation/catsync/internal/remote/memory"
	"github.com/agentstation/catsync/internal/runlock"
	storemem "github.com/agentstation/catsync/internal/store/memory"
	"github.com/agentstation/catsync/internal/store/sqlite"
	"github.com/agentstation/catsync/internal/transport"
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
)

// App holds the CLI dependencies. The sync client is built lazily on first
// use so that commands like version work without any configuration.
type App struct {
	version string
	commit  string
	date    string
	builtBy string

	config *Config
	logger *zerolog.Logger

	// out receives command output when set; cobra defaults to stdout.
	out io.Writer

	mu      sync.Mutex
	client  catsync.Client
	closers []io.Closer
}

// New creates a new App instance with the given version information.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
		config:  DefaultConfig(),
	}

	logger := NewLogger(app.config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// Settings loads and validates the sync settings once.
func (a *App) Settings() (*config.Settings, error) {
	if a.config.Settings == nil {
		if err := a.config.Load(); err != nil {
			return nil, err
		}
	}
	if err := a.config.Settings.Validate(); err != nil {
		return nil, err
	}
	return a.config.Settings, nil
}

// Client returns the sync client, creating it lazily if needed.
func (a *App) Client(ctx context.Context) (catsync.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}

	settings, err := a.Settings()
	if err != nil {
		return nil, err
	}

	local, err := a.openLocal(ctx, settings)
	if err != nil {
		return nil, err
	}
	remote, err := newRemote(settings)
	if err != nil {
		return nil, err
	}

	opts := []catsync.Option{
		catsync.WithThreshold(settings.Sync.Threshold),
		catsync.WithParallelism(settings.Sync.Parallelism),
	}
	if settings.Interval > 0 {
		opts = append(opts, catsync.WithAutoSyncInterval(settings.Interval))
	}
	for _, b := range settings.Bindings {
		opts = append(opts, catsync.WithBinding(b.Kind, b.Catalog))
	}
	if settings.LockDir != "" {
		locks, err := runlock.New(settings.LockDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, catsync.WithLocker(locks))
	}

	client, err := catsync.New(local, remote, opts...)
	if err != nil {
		return nil, errors.WrapResource("create", "client", "", err)
	}
	a.client = client
	return client, nil
}

// Binding picks the binding a command runs against. An explicit catalog
// wins; otherwise the configured binding for kind (or the first one) is used.
func (a *App) Binding(kind, catalogID string) (catsync.Binding, error) {
	var parsed entity.Kind
	if kind != "" {
		k, err := entity.ParseKind(kind)
		if err != nil {
			return catsync.Binding{}, err
		}
		parsed = k
	}
	if parsed != "" && catalogID != "" {
		return catsync.Binding{Kind: parsed, CatalogID: catalogID}, nil
	}

	settings, err := a.Settings()
	if err != nil {
		return catsync.Binding{}, err
	}
	b, ok := settings.Binding(parsed)
	if !ok {
		return catsync.Binding{}, errors.NewValidationError("kind", kind, "no binding configured for this kind")
	}
	if catalogID != "" {
		b.Catalog = catalogID
	}
	return catsync.Binding{Kind: b.Kind, CatalogID: b.Catalog}, nil
}

// Shutdown stops scheduled sync and closes the local store.
func (a *App) Shutdown(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.client != nil {
		if err := a.client.AutoSyncOff(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openLocal(ctx context.Context, settings *config.Settings) (entity.LocalStore, error) {
	switch settings.Local.Driver {
	case config.DriverMemory:
		a.logger.Warn().Msg("using the in-memory local store; nothing will persist")
		return storemem.New(), nil
	default:
		store, err := sqlite.Open(ctx, settings.Local.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	}
}

func newRemote(settings *config.Settings) (entity.RemoteCatalog, error) {
	if settings.Remote.URL == "memory://" {
		return remotemem.New(), nil
	}

	auth, err := transport.NewAuthenticator(settings.Remote.AuthScheme, settings.Remote.AuthName)
	if err != nil {
		return nil, err
	}
	client := transport.New(
		transport.WithTimeout(settings.Remote.Timeout),
		transport.WithAPIKey(auth, settings.Remote.APIKey),
	)
	return transport.NewCatalog(settings.Remote.URL,
		transport.WithClient(client),
		transport.WithPageSize(settings.Remote.PageSize),
		transport.WithWriteRate(settings.Remote.RateLimit),
	)
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithOutput redirects command output.
func WithOutput(w io.Writer) Option {
	return func(a *App) error {
		a.out = w
		return nil
	}
}

// WithClient sets a prebuilt sync client (useful for testing).
func WithClient(c catsync.Client) Option {
	return func(a *App) error {
		a.client = c
		return nil
	}
}
