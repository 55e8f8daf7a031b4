package container

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/km-arc/go-registry/framework/lifetime"
	"github.com/km-arc/go-registry/framework/storage"
)

// ── ServiceProvider interface ─────────────────────────────────────────────────

// ServiceProvider groups the registrations of one subsystem.
//
// Boot is called after every provider has been registered, so it is safe to
// resolve other bindings there.
//
//	type AppServiceProvider struct{ container.BaseProvider }
//
//	func (p *AppServiceProvider) Register(app *container.Container) error {
//	    return container.Singleton(app, func(c *container.Container) (*Mailer, error) {
//	        cfg, err := container.Resolve[*config.Config](c)
//	        if err != nil {
//	            return nil, err
//	        }
//	        return NewMailer(cfg), nil
//	    })
//	}
type ServiceProvider interface {
	// Register binds services into the container. Do not resolve other
	// bindings here; use Boot for that.
	Register(app *Container) error

	// Boot is called after all providers are registered.
	Boot(app *Container) error

	// Provides lists the contracts a deferred provider registers.
	Provides() []storage.TypeKey

	// IsDeferred reports whether the provider is registered lazily, on the
	// first resolution of one of its Provides contracts.
	IsDeferred() bool
}

// ── BaseProvider ──────────────────────────────────────────────────────────────

// BaseProvider is an embeddable no-op implementation of Boot, Provides and
// IsDeferred.
type BaseProvider struct{}

func (p *BaseProvider) Boot(_ *Container) error     { return nil }
func (p *BaseProvider) Provides() []storage.TypeKey { return nil }
func (p *BaseProvider) IsDeferred() bool            { return false }

// ── ProviderRegistry ──────────────────────────────────────────────────────────

// ProviderRegistry registers and boots ServiceProviders, including deferred
// ones.
type ProviderRegistry struct {
	app *Container

	mu         sync.Mutex
	eager      []ServiceProvider
	deferred   map[storage.TypeKey]ServiceProvider
	booted     bool
	registered map[ServiceProvider]bool
}

// NewProviderRegistry creates a registry bound to app.
func NewProviderRegistry(app *Container) *ProviderRegistry {
	return &ProviderRegistry{
		app:        app,
		deferred:   make(map[storage.TypeKey]ServiceProvider),
		registered: make(map[ServiceProvider]bool),
	}
}

// Register adds a provider. Eager providers are registered immediately, and
// booted too when the registry already booted. Deferred providers get a
// placeholder binding per contract.
func (r *ProviderRegistry) Register(provider ServiceProvider) error {
	r.mu.Lock()
	if r.registered[provider] {
		r.mu.Unlock()
		return nil
	}
	r.registered[provider] = true

	if provider.IsDeferred() {
		for _, t := range provider.Provides() {
			r.deferred[t] = provider
		}
		r.mu.Unlock()
		return r.interceptDeferred(provider)
	}

	r.eager = append(r.eager, provider)
	booted := r.booted
	r.mu.Unlock()

	if err := provider.Register(r.app); err != nil {
		return fmt.Errorf("container: register provider %T: %w", provider, err)
	}
	if booted {
		return r.boot(provider)
	}
	return nil
}

// interceptDeferred binds a placeholder for each deferred contract. The first
// resolution registers the provider for real, which overwrites the
// placeholders, and then resolves again.
func (r *ProviderRegistry) interceptDeferred(provider ServiceProvider) error {
	var (
		once    sync.Once
		loadErr error
	)
	load := func() error {
		once.Do(func() {
			r.app.log.V(1).Info("Loading deferred provider", "provider", fmt.Sprintf("%T", provider))
			if loadErr = provider.Register(r.app); loadErr != nil {
				loadErr = fmt.Errorf("container: register provider %T: %w", provider, loadErr)
				return
			}

			r.mu.Lock()
			for _, t := range provider.Provides() {
				delete(r.deferred, t)
			}
			booted := r.booted
			r.mu.Unlock()
			if booted {
				loadErr = r.boot(provider)
			}
		})
		return loadErr
	}

	for _, t := range provider.Provides() {
		placeholder := &binding{lifetime: lifetime.NewTransient(), deferred: true}
		placeholder.factory = func(c *Container) (any, error) {
			if err := load(); err != nil {
				return nil, err
			}
			if m, ok := c.scope.Lookup(t); ok && m == storage.Manager(placeholder) {
				return nil, fmt.Errorf("container: deferred provider %T did not register %s", provider, t)
			}
			return c.Make(t, "")
		}
		if err := r.app.scope.RegisterAnonymous([]storage.TypeKey{t}, placeholder); err != nil {
			return fmt.Errorf("container: defer %s: %w", t, err)
		}
	}
	return nil
}

// Boot boots every eager provider once. Errors are collected; a failing
// provider does not stop the others.
func (r *ProviderRegistry) Boot() error {
	r.mu.Lock()
	if r.booted {
		r.mu.Unlock()
		return nil
	}
	r.booted = true
	eager := slices.Clone(r.eager)
	r.mu.Unlock()

	var errs []error
	for _, provider := range eager {
		errs = append(errs, r.boot(provider))
	}
	return errors.Join(errs...)
}

func (r *ProviderRegistry) boot(provider ServiceProvider) error {
	if err := provider.Boot(r.app); err != nil {
		return fmt.Errorf("container: boot provider %T: %w", provider, err)
	}
	return nil
}

// Booted reports whether Boot has been called.
func (r *ProviderRegistry) Booted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.booted
}

// Providers returns the registered eager providers.
func (r *ProviderRegistry) Providers() []ServiceProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.eager)
}

// Pending returns the contracts whose deferred provider has not loaded yet.
func (r *ProviderRegistry) Pending() []storage.TypeKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]storage.TypeKey, 0, len(r.deferred))
	for t := range r.deferred {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b storage.TypeKey) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}
