package providers

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/km-arc/go-registry/framework/config"
	"github.com/km-arc/go-registry/framework/container"
	"github.com/km-arc/go-registry/framework/inspector"
	"github.com/km-arc/go-registry/framework/metrics"
	"github.com/km-arc/go-registry/framework/storage"
)

// ── ConfigServiceProvider ─────────────────────────────────────────────────────

// ConfigServiceProvider binds the loaded configuration.
//
// Bound contracts:
//   - *config.Config
//   - *config.AppConfig
type ConfigServiceProvider struct {
	container.BaseProvider
	Config *config.Config
}

func (p *ConfigServiceProvider) Register(app *container.Container) error {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Load()
	}
	if err := container.Instance(app, cfg); err != nil {
		return err
	}
	return container.Instance(app, &cfg.App)
}

// ── LoggingServiceProvider ────────────────────────────────────────────────────

// LoggingServiceProvider binds the application logger.
//
// Bound contracts:
//   - logr.Logger
type LoggingServiceProvider struct {
	container.BaseProvider
	Logger logr.Logger
}

func (p *LoggingServiceProvider) Register(app *container.Container) error {
	return container.Instance(app, p.Logger)
}

// ── MetricsServiceProvider ────────────────────────────────────────────────────

// MetricsServiceProvider binds the metrics registry and, on boot, exports the
// occupancy of every container under app.
//
// Bound contracts:
//   - prometheus.Gatherer
//   - prometheus.Registerer
type MetricsServiceProvider struct {
	container.BaseProvider
}

func (p *MetricsServiceProvider) Register(app *container.Container) error {
	return container.Instance[prometheus.Gatherer](app, metrics.Registry,
		container.As(storage.TypeOf[prometheus.Registerer]()))
}

func (p *MetricsServiceProvider) Boot(app *container.Container) error {
	metrics.Register()
	source := metrics.SourceFunc(func(fn func(string, storage.Stats)) {
		app.Walk(func(c *container.Container) {
			fn(c.ID().String(), c.Scope().Stats())
		})
	})
	if err := metrics.RegisterOccupancy(source); err != nil {
		return fmt.Errorf("providers: register occupancy collector: %w", err)
	}
	return nil
}

// ── InspectorServiceProvider ──────────────────────────────────────────────────

// InspectorServiceProvider binds the HTTP inspector. It is deferred: nothing
// is built until the inspector is first resolved.
//
// Bound contracts:
//   - *inspector.Inspector
type InspectorServiceProvider struct {
	container.BaseProvider
}

func (p *InspectorServiceProvider) IsDeferred() bool { return true }

func (p *InspectorServiceProvider) Provides() []storage.TypeKey {
	return []storage.TypeKey{storage.TypeOf[*inspector.Inspector]()}
}

func (p *InspectorServiceProvider) Register(app *container.Container) error {
	return container.Singleton(app, func(c *container.Container) (*inspector.Inspector, error) {
		cfg, err := container.Resolve[*config.Config](c)
		if err != nil {
			return nil, err
		}
		logger, err := container.Resolve[logr.Logger](c)
		if err != nil {
			return nil, err
		}

		opts := []inspector.Option{inspector.WithLogger(logger.WithName("inspector"))}
		if cfg.Inspector.Metrics {
			gatherer, err := container.Resolve[prometheus.Gatherer](c)
			if err != nil {
				return nil, err
			}
			opts = append(opts, inspector.WithMetrics(gatherer))
		}
		return inspector.New(app, opts...), nil
	})
}
