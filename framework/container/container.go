package container

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/km-arc/go-registry/framework/lifetime"
	"github.com/km-arc/go-registry/framework/storage"
)

var (
	// ErrNotBound is returned when no registration matches a requested key.
	ErrNotBound = errors.New("container: no binding registered")
	// ErrInvalidFactory is returned when a registration has no factory.
	ErrInvalidFactory = errors.New("container: factory must not be nil")
)

// ── Binding types ─────────────────────────────────────────────────────────────

// Factory builds a concrete value. c is the container the value was
// requested from.
type Factory func(c *Container) (any, error)

// binding is the manager stored in the scope for one registration.
type binding struct {
	factory  Factory
	lifetime lifetime.Manager
	internal bool
	deferred bool

	// mu serializes factory runs for lifetimes that store their value.
	mu sync.Mutex
}

func (b *binding) Release() error { return b.lifetime.Release() }

func (b *binding) Internal() bool { return b.internal }

func (b *binding) String() string { return fmt.Sprint(b.lifetime) }

func (b *binding) resolve(c *Container) (any, error) {
	if !lifetime.Stores(b.lifetime) {
		return b.factory(c)
	}
	if v, ok := b.lifetime.GetValue(); ok {
		return v, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.lifetime.GetValue(); ok {
		return v, nil
	}
	v, err := b.factory(c)
	if err != nil {
		return nil, err
	}
	b.lifetime.SetValue(v)
	return v, nil
}

// Registration describes one call to Register.
type Registration struct {
	// Types are the contracts the factory's value is registered as.
	Types []storage.TypeKey
	// Name qualifies the registration; empty is the default binding.
	Name string
	// Lifetime defaults to transient.
	Lifetime lifetime.Manager
	Factory  Factory
}

// Resolver is the read side of a container.
type Resolver interface {
	Make(t storage.TypeKey, name string) (any, error)
	Bound(t storage.TypeKey, name string) bool
}

// Registrar is the write side of a container.
type Registrar interface {
	Register(r Registration) error
}

// builtins are bound in every container to the container itself.
var builtins = []storage.TypeKey{
	storage.TypeOf[*Container](),
	storage.TypeOf[Resolver](),
	storage.TypeOf[Registrar](),
}

// ── Container ─────────────────────────────────────────────────────────────────

// Container is the IoC container. Registrations live in a storage.Scope;
// child containers resolve through their parent until they register their
// own bindings.
type Container struct {
	id     uuid.UUID
	parent *Container
	scope  *storage.Scope
	log    logr.Logger

	mu             sync.Mutex
	children       []*Container
	afterResolving []func(storage.TypeKey, any)
}

type settings struct {
	logger logr.Logger
	scope  []storage.Option
}

// Option configures a root container.
type Option func(*settings)

// WithLogger sets the logger of the container and of its store.
func WithLogger(logger logr.Logger) Option {
	return func(s *settings) {
		s.logger = logger
		s.scope = append(s.scope, storage.WithLogger(logger))
	}
}

// WithObserver forwards store events to observer.
func WithObserver(observer storage.Observer) Option {
	return func(s *settings) { s.scope = append(s.scope, storage.WithObserver(observer)) }
}

// WithCapacity sets the initial table capacities as prime sequence indices.
func WithCapacity(registry, contracts int) Option {
	return func(s *settings) {
		s.scope = append(s.scope, storage.WithRegistryCapacity(registry), storage.WithContractCapacity(contracts))
	}
}

// New creates an empty root container. The container is bound to itself as
// *Container, Resolver and Registrar.
func New(opts ...Option) *Container {
	s := settings{logger: logr.Discard()}
	for _, fn := range opts {
		fn(&s)
	}
	c := &Container{id: uuid.New(), log: s.logger}
	c.scope = storage.New(append(s.scope, storage.WithBuiltins(c.self(), builtins...))...)
	return c
}

func (c *Container) self() *binding {
	return &binding{
		factory:  func(*Container) (any, error) { return c, nil },
		lifetime: lifetime.NewExternal(c),
		internal: true,
	}
}

// ID identifies the container in diagnostics.
func (c *Container) ID() uuid.UUID { return c.id }

// Parent returns the parent container, or nil for a root.
func (c *Container) Parent() *Container { return c.parent }

// Scope exposes the underlying store.
func (c *Container) Scope() *storage.Scope { return c.scope }

// ── Registration ──────────────────────────────────────────────────────────────

// Register binds r.Factory to every type in r.Types. Registering a key that
// already exists in this container replaces it and releases the previous
// lifetime; a failed release is returned but the new binding stays.
func (c *Container) Register(r Registration) error {
	if r.Factory == nil {
		return ErrInvalidFactory
	}
	b := &binding{factory: r.Factory, lifetime: r.Lifetime}
	if b.lifetime == nil {
		b.lifetime = lifetime.NewTransient()
	}

	if err := c.scope.RegisterNamed(r.Types, r.Name, b); err != nil {
		return fmt.Errorf("container: register %s: %w", describeAll(r.Types, r.Name), err)
	}
	c.log.V(2).Info("Registered", "types", describeAll(r.Types, r.Name), "lifetime", b.String())
	return nil
}

// RegisterAsync is not supported; it always returns storage.ErrAsyncUnsupported.
func (c *Container) RegisterAsync(ctx context.Context, r Registration) error {
	return c.scope.RegisterNamedAsync(ctx, r.Types, r.Name, &binding{factory: r.Factory, lifetime: r.Lifetime})
}

// Deferred reports whether t currently resolves to a deferred provider's
// placeholder rather than a real factory.
func (c *Container) Deferred(t storage.TypeKey) bool {
	m, ok := c.scope.Lookup(t)
	if !ok {
		return false
	}
	b, ok := m.(*binding)
	return ok && b.deferred
}

// BindOption adjusts a registration made through Bind, Singleton or Instance.
type BindOption func(*Registration)

// Named qualifies the registration with name.
func Named(name string) BindOption {
	return func(r *Registration) { r.Name = name }
}

// As registers the value under additional contracts.
//
//	container.Singleton(c, newRedis, container.As(storage.TypeOf[Cache]()))
func As(types ...storage.TypeKey) BindOption {
	return func(r *Registration) { r.Types = append(r.Types, types...) }
}

// Bind registers a transient factory for T: every Make builds a new value.
//
//	container.Bind(c, func(c *container.Container) (*Mailer, error) {
//	    return NewMailer(), nil
//	})
func Bind[T any](c *Container, factory func(c *Container) (T, error), opts ...BindOption) error {
	return register(c, lifetime.NewTransient(), factory, opts)
}

// Singleton registers a factory for T whose result is kept after the first
// Make and closed with the registration.
func Singleton[T any](c *Container, factory func(c *Container) (T, error), opts ...BindOption) error {
	return register(c, lifetime.NewContainerControlled(), factory, opts)
}

// Instance registers a pre-built value as the singleton for T.
//
//	container.Instance(c, cfg)
func Instance[T any](c *Container, value T, opts ...BindOption) error {
	m := lifetime.NewContainerControlled()
	m.SetValue(value)
	return register(c, m, func(*Container) (T, error) { return value, nil }, opts)
}

func register[T any](c *Container, m lifetime.Manager, factory func(c *Container) (T, error), opts []BindOption) error {
	if factory == nil {
		return ErrInvalidFactory
	}
	r := Registration{
		Types:    []storage.TypeKey{storage.TypeOf[T]()},
		Lifetime: m,
		Factory:  func(c *Container) (any, error) { return factory(c) },
	}
	for _, opt := range opts {
		opt(&r)
	}
	return c.Register(r)
}

// ── Resolution ────────────────────────────────────────────────────────────────

// Make resolves the value bound to (t, name), searching this container and
// then its ancestors.
func (c *Container) Make(t storage.TypeKey, name string) (any, error) {
	m, ok := c.scope.LookupNamed(t, name)
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNotBound, describe(t, name))
	}
	b, ok := m.(*binding)
	if !ok {
		return nil, fmt.Errorf("container: %s is bound to foreign manager %T", describe(t, name), m)
	}

	v, err := b.resolve(c)
	if err != nil {
		return nil, fmt.Errorf("container: resolve %s: %w", describe(t, name), err)
	}
	c.fireAfterResolving(t, v)
	return v, nil
}

// Bound reports whether (t, name) resolves from this container.
func (c *Container) Bound(t storage.TypeKey, name string) bool {
	return c.scope.IsRegisteredNamed(t, name)
}

// Resolve makes the default binding of T.
//
//	cfg, err := container.Resolve[*config.Config](c)
func Resolve[T any](c *Container) (T, error) {
	return ResolveNamed[T](c, "")
}

// ResolveNamed makes the binding of T registered under name.
func ResolveNamed[T any](c *Container, name string) (T, error) {
	var zero T
	v, err := c.Make(storage.TypeOf[T](), name)
	if err != nil || v == nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("container: %s resolved to %T", describe(storage.TypeOf[T](), name), v)
	}
	return typed, nil
}

// MustResolve is like Resolve but panics on failure.
func MustResolve[T any](c *Container) T {
	v, err := Resolve[T](c)
	if err != nil {
		panic(err)
	}
	return v
}

// ── Callbacks ─────────────────────────────────────────────────────────────────

// AfterResolving registers a callback fired after every successful Make on
// this container.
func (c *Container) AfterResolving(cb func(t storage.TypeKey, instance any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterResolving = append(c.afterResolving, cb)
}

func (c *Container) fireAfterResolving(t storage.TypeKey, instance any) {
	c.mu.Lock()
	cbs := c.afterResolving
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(t, instance)
	}
}

// ── Hierarchy ─────────────────────────────────────────────────────────────────

// CreateChild returns a child container. It sees every binding of c and may
// override any of them without affecting c.
func (c *Container) CreateChild() *Container {
	child := &Container{id: uuid.New(), parent: c, log: c.log}
	child.scope = c.scope.NewChild(storage.WithBuiltins(child.self(), builtins...))

	c.mu.Lock()
	c.children = append(c.children, child)
	c.mu.Unlock()

	c.log.V(1).Info("Created child container", "id", child.id, "parent", c.id, "level", child.scope.Level())
	return child
}

// Walk calls fn for c and every live descendant, parents first.
func (c *Container) Walk(fn func(*Container)) {
	fn(c)
	c.mu.Lock()
	children := slices.Clone(c.children)
	c.mu.Unlock()
	for _, child := range children {
		child.Walk(fn)
	}
}

// Find returns the container with the given id among c and its descendants.
func (c *Container) Find(id uuid.UUID) (*Container, bool) {
	var found *Container
	c.Walk(func(n *Container) {
		if n.id == id {
			found = n
		}
	})
	return found, found != nil
}

// Registrations enumerates the bindings visible from c.
func (c *Container) Registrations() iter.Seq[storage.Registration] {
	return c.scope.Registrations()
}

// Dispose disposes every child, then releases this container's bindings.
// The container must not be used afterwards.
func (c *Container) Dispose() error {
	c.mu.Lock()
	children := c.children
	c.children = nil
	c.mu.Unlock()

	var errs []error
	for _, child := range slices.Backward(children) {
		errs = append(errs, child.Dispose())
	}
	errs = append(errs, c.scope.Dispose())
	if c.parent != nil {
		c.parent.forget(c)
	}
	c.log.V(1).Info("Disposed container", "id", c.id)
	return errors.Join(errs...)
}

func (c *Container) forget(child *Container) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children = slices.DeleteFunc(c.children, func(n *Container) bool { return n == child })
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// Lifetime names the lifetime of a manager returned by Registrations.
func Lifetime(m storage.Manager) string {
	if b, ok := m.(*binding); ok {
		if b.internal {
			return "container"
		}
		return b.String()
	}
	return fmt.Sprintf("%T", m)
}

func describe(t storage.TypeKey, name string) string {
	if name == "" {
		return "[" + t.String() + "]"
	}
	return fmt.Sprintf("[%s named %q]", t, name)
}

func describeAll(types []storage.TypeKey, name string) string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.String())
	}
	if name == "" {
		return fmt.Sprint(names)
	}
	return fmt.Sprintf("%v named %q", names, name)
}
