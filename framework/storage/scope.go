package storage

import (
	"errors"
	"io"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

// Manager is the opaque construction policy bound to a key. The store moves,
// replaces and disposes managers but never interprets them. Managers should
// be comparable (typically pointers) so a re-registration of the same value
// is recognised and not released.
type Manager = any

// Releaser is implemented by managers holding resources that must be freed
// when the manager is superseded or its scope is disposed. Release may be
// called once per row the manager was registered under and must tolerate
// repeated calls.
type Releaser interface {
	Release() error
}

// internal is implemented by managers that must not be enumerated.
type internal interface {
	Internal() bool
}

// Stats is a point-in-time view of a scope's occupancy.
type Stats struct {
	Level            int
	Version          uint32
	Registrations    int
	Names            int
	RegistryCapacity int
	ContractCapacity int
	Resizes          uint32
}

// Scope is one node of the registration tree. It owns a registry table and a
// contract table and links to the scope of its parent container.
//
// Lookups take no lock and may run concurrently with registrations. Writers
// are serialized per scope: registryMu guards the registry table and the
// reference lists of contract rows, contractMu guards the contract table.
// When both are needed registryMu is taken first.
type Scope struct {
	parent *Scope
	level  int
	opts   options

	version atomic.Uint32
	resizes atomic.Uint32

	registryMu sync.Mutex
	contractMu sync.Mutex
	registry   atomic.Pointer[table[*registration]]
	contracts  atomic.Pointer[table[*contract]]

	// builtins is the number of rows, starting at index 1, seeded by WithBuiltins.
	builtins uint32

	disposed  atomic.Bool
	closersMu sync.Mutex
	closers   []io.Closer
}

// New creates a root scope.
//
//	scope := storage.New(storage.WithBuiltins(self, storage.TypeOf[*Container]()))
func New(opts ...Option) *Scope {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return newScope(nil, o)
}

// NewChild creates the scope of a child container. The child starts empty and
// resolves through s until it registers its own rows. Logger, observer and
// initial capacities are inherited unless overridden.
func (s *Scope) NewChild(opts ...Option) *Scope {
	o := s.opts
	o.self, o.builtins = nil, nil
	for _, fn := range opts {
		fn(&o)
	}
	return newScope(s, o)
}

func newScope(parent *Scope, o options) *Scope {
	s := &Scope{parent: parent, level: 1, opts: o}
	if parent != nil {
		s.level = parent.level + 1
	}

	registry := newTable[*registration](s, o.registryPrime)
	if required := uint32(len(o.builtins)); required > registry.max {
		registry = registry.resize(required)
	}
	for _, typ := range o.builtins {
		if typ.IsZero() {
			continue
		}
		r := &registration{hash: typ.hash, typ: typ, internal: true}
		r.manager.Store(&managerRef{m: o.self})
		registry.append(r)
	}
	s.builtins = registry.count.Load()
	s.registry.Store(registry)
	s.contracts.Store(newTable[*contract](s, o.contractPrime))
	return s
}

// CreateChild returns a snapshot of s: a scope with the same parent and level
// that shares s's tables by reference. Neither side copies anything until it
// mutates; the first registration on either side then copies the affected
// table privately, so a snapshot never observes the other side's later
// registrations and never corrupts them.
//
// Managers reachable through a snapshot are owned by s. The snapshot does not
// release them, and s defers releasing any it supersedes until s is disposed.
func (s *Scope) CreateChild() *Scope {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	s.contractMu.Lock()
	defer s.contractMu.Unlock()

	registry := s.registry.Load()
	contracts := s.contracts.Load()
	registry.shared.Store(true)
	contracts.shared.Store(true)

	snapshot := &Scope{
		parent:   s.parent,
		level:    s.level,
		opts:     s.opts,
		builtins: s.builtins,
	}
	snapshot.version.Store(s.version.Load() + 1)
	snapshot.registry.Store(registry)
	snapshot.contracts.Store(contracts)
	return snapshot
}

// Parent returns the parent scope, or nil for a root.
func (s *Scope) Parent() *Scope { return s.parent }

// Level is 1 for a root and increases by one per generation.
func (s *Scope) Level() int { return s.level }

// Version increases on every structural change. It is diagnostic only.
func (s *Scope) Version() uint32 { return s.version.Load() }

// Contracts returns the number of registry rows in this scope, built-ins
// included.
func (s *Scope) Contracts() int { return int(s.registry.Load().count.Load()) }

// Names returns the number of distinct registration names in this scope.
func (s *Scope) Names() int { return int(s.contracts.Load().count.Load()) }

// Stats returns the occupancy of s.
func (s *Scope) Stats() Stats {
	registry := s.registry.Load()
	contracts := s.contracts.Load()
	return Stats{
		Level:            s.level,
		Version:          s.version.Load(),
		Registrations:    int(registry.count.Load()),
		Names:            int(contracts.count.Load()),
		RegistryCapacity: registry.capacity(),
		ContractCapacity: contracts.capacity(),
		Resizes:          s.resizes.Load(),
	}
}

// Disposed reports whether Dispose has been called.
func (s *Scope) Disposed() bool { return s.disposed.Load() }

// Dispose releases every manager owned by s, in reverse registration order,
// then closes the resources deferred by replacements. Each comparable manager
// or resource is released once. Pooled bucket arrays
// are returned once no snapshot references them. Dispose must not race with
// lookups on s or its descendants; it is idempotent.
func (s *Scope) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}

	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	s.contractMu.Lock()
	defer s.contractMu.Unlock()

	var errs []error
	released := make(map[Manager]struct{})
	registry := s.registry.Load()
	if registry.owner == s {
		for i := registry.count.Load(); i > s.builtins; i-- {
			r := registry.rows[i]
			if r.inherited {
				continue
			}
			m := r.manager.Load().m
			if isComparable(m) {
				if _, done := released[m]; done {
					continue
				}
				released[m] = struct{}{}
			}
			if releaser, ok := m.(Releaser); ok {
				if err := releaser.Release(); err != nil {
					s.opts.logger.Error(err, "Failed to release manager", "type", r.typ.String())
					errs = append(errs, err)
				}
			}
		}
		if !registry.shared.Load() {
			s.registry.Store(registry.detach())
			returnMeta(registry.meta)
		}
	}
	if contracts := s.contracts.Load(); contracts.owner == s && !contracts.shared.Load() {
		s.contracts.Store(contracts.detach())
		returnMeta(contracts.meta)
	}

	s.closersMu.Lock()
	closers := s.closers
	s.closers = nil
	s.closersMu.Unlock()
	for _, c := range slices.Backward(closers) {
		var key any = c
		if d, ok := c.(deferredRelease); ok {
			key = d.r
		}
		if isComparable(key) {
			if _, done := released[key]; done {
				continue
			}
			released[key] = struct{}{}
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// track defers c until the scope is disposed.
func (s *Scope) track(c io.Closer) {
	s.closersMu.Lock()
	s.closers = append(s.closers, c)
	s.closersMu.Unlock()
}

func isComparable(m Manager) bool {
	t := reflect.TypeOf(m)
	return t != nil && t.Comparable()
}

func same(a, b Manager) bool {
	return isComparable(a) && reflect.TypeOf(a) == reflect.TypeOf(b) && a == b
}
