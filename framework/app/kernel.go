package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/km-arc/go-registry/framework/config"
	"github.com/km-arc/go-registry/framework/container"
	"github.com/km-arc/go-registry/framework/inspector"
	"github.com/km-arc/go-registry/framework/logging"
	"github.com/km-arc/go-registry/framework/metrics"
	"github.com/km-arc/go-registry/framework/providers"
)

// Version of the application.
const Version = "0.1.0"

const shutdownTimeout = 5 * time.Second

// Application is the top-level application container. It embeds the root
// Container and the ProviderRegistry so user code can bind and resolve on the
// application directly.
type Application struct {
	*container.Container
	Providers *container.ProviderRegistry

	cfg *config.Config
	log logr.Logger
}

// New loads configuration from envFiles, builds the logger and bootstraps
// the application.
func New(envFiles ...string) (*Application, error) {
	cfg := config.Load(envFiles...)
	logger, err := logging.New(logging.Options{
		Format:      cfg.App.LogFormat,
		Verbosity:   cfg.App.Verbosity,
		Development: cfg.App.Debug,
	})
	if err != nil {
		return nil, err
	}
	return NewWith(cfg, logger)
}

// NewWith bootstraps the application from an already loaded configuration.
func NewWith(cfg *config.Config, logger logr.Logger) (*Application, error) {
	c := container.New(
		container.WithLogger(logger.WithName("container")),
		container.WithObserver(metrics.Recorder{}),
		container.WithCapacity(cfg.Registry.RegistryCapacity, cfg.Registry.ContractCapacity),
	)
	app := &Application{
		Container: c,
		Providers: container.NewProviderRegistry(c),
		cfg:       cfg,
		log:       logger,
	}

	// Framework core providers
	for _, p := range []container.ServiceProvider{
		&providers.ConfigServiceProvider{Config: cfg},
		&providers.LoggingServiceProvider{Logger: logger},
		&providers.MetricsServiceProvider{},
		&providers.InspectorServiceProvider{},
	} {
		if err := app.Register(p); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Register adds a ServiceProvider to the application.
func (a *Application) Register(provider container.ServiceProvider) error {
	return a.Providers.Register(provider)
}

// Boot runs the Boot() phase on all providers.
func (a *Application) Boot() error {
	return a.Providers.Boot()
}

// Config returns the loaded configuration.
func (a *Application) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *Application) Logger() logr.Logger { return a.log }

// Inspector resolves the inspector, loading its deferred provider.
func (a *Application) Inspector() (*inspector.Inspector, error) {
	return container.Resolve[*inspector.Inspector](a.Container)
}

// Run boots the application (if needed) and serves the inspector on
// cfg.Inspector.Addr until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Inspector.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.cfg.Inspector.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. The listener is closed on return.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	if !a.Providers.Booted() {
		if err := a.Boot(); err != nil {
			ln.Close()
			return err
		}
	}
	ins, err := a.Inspector()
	if err != nil {
		ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           ins.Router(),
		ReadHeaderTimeout: shutdownTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.log.Info("Inspector listening", "addr", ln.Addr().String(), "app", a.cfg.App.Name, "env", a.cfg.App.Env, "version", Version)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: shutdown inspector: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	a.log.Info("Inspector stopped")
	return nil
}

// Close disposes the container tree.
func (a *Application) Close() error {
	return a.Dispose()
}

// Environment returns APP_ENV value.
func (a *Application) Environment() string { return a.cfg.App.Env }
func (a *Application) IsLocal() bool       { return a.Environment() == "local" }
func (a *Application) IsProduction() bool  { return a.Environment() == "production" }
func (a *Application) IsTesting() bool     { return a.Environment() == "testing" }
func (a *Application) IsDebug() bool       { return a.cfg.App.Debug }
