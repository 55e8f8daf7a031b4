// Package container provides an IoC (Inversion of Control) container and a
// Service Provider system on top of the storage package.
//
// # Overview
//
// Bindings are keyed by Go type, optionally qualified by a name. Each binding
// pairs a Factory with a lifetime: transient bindings build a new value on
// every Make, singletons keep the first value until the binding is replaced
// or the container disposed. Go has no runtime constructor reflection, so
// auto-wiring is replaced by explicit factory functions.
//
// # Container Lifecycle
//
//  1. Create: c := container.New()
//  2. Register providers: registry.Register(&MyProvider{})
//  3. Boot: registry.Boot()
//  4. Serve requests, optionally from child containers
//  5. Dispose: c.Dispose()
//
// # Bindings
//
//	// Transient
//	container.Bind(c, func(c *container.Container) (*Foo, error) { return &Foo{}, nil })
//
//	// Singleton, also resolvable as Cache
//	container.Singleton(c, newRedisCache, container.As(storage.TypeOf[Cache]()))
//
//	// Pre-built value
//	container.Instance(c, cfg)
//
//	// Named
//	container.Instance(c, replicaDB, container.Named("replica"))
//
// # Resolving
//
//	raw, err := c.Make(storage.TypeOf[*Foo](), "")
//	cache, err := container.Resolve[Cache](c)
//	replica, err := container.ResolveNamed[*sql.DB](c, "replica")
//
// # Child containers
//
// A child sees every binding of its ancestors. Registering in the child
// shadows the parent's binding for that child only.
//
//	req := c.CreateChild()
//	container.Instance(req, currentUser)
//	defer req.Dispose()
//
// # Deferred Providers
//
//	type HeavyProvider struct{ container.BaseProvider }
//
//	func (p *HeavyProvider) IsDeferred() bool { return true }
//	func (p *HeavyProvider) Provides() []storage.TypeKey {
//	    return []storage.TypeKey{storage.TypeOf[*Heavy]()}
//	}
//	func (p *HeavyProvider) Register(app *container.Container) error {
//	    return container.Singleton(app, newHeavy) // only called on first Make
//	}
package container
