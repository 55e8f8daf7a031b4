package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"
)

// registration is one registry row binding (type, identity) to a manager.
// Identity 0 is the unnamed binding.
type registration struct {
	hash     uint32
	typ      TypeKey
	identity uint32
	manager  atomic.Pointer[managerRef]

	// internal rows are built-ins. inherited rows were copied from a table
	// owned by another scope; their current manager is not ours to release.
	// pinned rows were copied out of a table a snapshot still references, so
	// their current manager is released only when the scope is disposed.
	// All three are guarded by registryMu.
	internal  bool
	inherited bool
	pinned    bool
}

type managerRef struct {
	m Manager
}

func (r *registration) rowHash() uint32 { return r.hash }

func (r *registration) copyFor(inherited, pinned bool) *registration {
	c := &registration{
		hash:      r.hash,
		typ:       r.typ,
		identity:  r.identity,
		internal:  r.internal,
		inherited: r.inherited || inherited,
		pinned:    r.pinned || pinned,
	}
	c.manager.Store(r.manager.Load())
	return c
}

// RegisterAnonymous binds m as the unnamed manager of every type in types.
// Zero keys are skipped. An existing unnamed row of the same type is updated
// in place and its previous manager released; release failures are joined
// into the returned error after the whole batch has been stored.
func (s *Scope) RegisterAnonymous(types []TypeKey, m Manager) error {
	if m == nil {
		return ErrNilManager
	}

	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	if s.disposed.Load() {
		return ErrDisposed
	}

	t := s.ownRegistry()
	if required := t.count.Load() + uint32(len(types)); required > t.max {
		t = s.expandRegistry(t, required)
	}

	var errs []error
	for _, typ := range types {
		if typ.IsZero() {
			continue
		}

		position := t.head(typ.hash)
		for ; position > 0; position = t.next(position) {
			if candidate := t.rows[position]; candidate.typ == typ && candidate.identity == 0 {
				errs = append(errs, s.replace(t, candidate, m))
				break
			}
		}

		if position == 0 {
			r := &registration{hash: typ.hash, typ: typ}
			r.manager.Store(&managerRef{m: m})
			t.append(r)
			s.opts.observer.Registered(false)
		}
	}

	s.version.Add(1)
	return errors.Join(errs...)
}

// RegisterNamed binds m to every type in types under name. An empty name is
// the unnamed registration. The name's contract row is created on first use.
func (s *Scope) RegisterNamed(types []TypeKey, name string, m Manager) error {
	if name == "" {
		return s.RegisterAnonymous(types, m)
	}
	if m == nil {
		return ErrNilManager
	}

	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	if s.disposed.Load() {
		return ErrDisposed
	}

	valid := 0
	for _, typ := range types {
		if !typ.IsZero() {
			valid++
		}
	}
	if valid == 0 {
		return nil
	}

	nameHash := NameHash(name)
	identity := s.identity(nameHash, name, valid)

	c := s.ownContracts().rows[identity]
	references := c.references
	count := references[0]
	if required := int(count) + len(types); required >= len(references) {
		grown := make([]uint32, int(math.Round(float64(required)/LoadFactor))+1)
		copy(grown, references)
		references = grown
	}

	t := s.ownRegistry()
	if required := t.count.Load() + uint32(len(types)); required > t.max {
		t = s.expandRegistry(t, required)
	}

	var errs []error
	for _, typ := range types {
		if typ.IsZero() {
			continue
		}

		hash := typ.named(nameHash)
		position := t.head(hash)
		for ; position > 0; position = t.next(position) {
			if candidate := t.rows[position]; candidate.typ == typ && candidate.identity == identity {
				errs = append(errs, s.replace(t, candidate, m))
				break
			}
		}

		if position == 0 {
			r := &registration{hash: hash, typ: typ, identity: identity}
			r.manager.Store(&managerRef{m: m})
			count++
			references[count] = t.append(r)
			s.opts.observer.Registered(true)
		}
	}

	references[0] = count
	c.references = references
	s.version.Add(1)
	return errors.Join(errs...)
}

// RegisterAnonymousAsync is not available in this store.
func (s *Scope) RegisterAnonymousAsync(_ context.Context, _ []TypeKey, _ Manager) error {
	return ErrAsyncUnsupported
}

// RegisterNamedAsync is not available in this store.
func (s *Scope) RegisterNamedAsync(_ context.Context, _ []TypeKey, _ string, _ Manager) error {
	return ErrAsyncUnsupported
}

// replace installs m on an existing row of t and disposes of the superseded
// manager once no other row of t resolves to it. A Releaser is released now,
// or at disposal when a snapshot may still reach it; a plain io.Closer is
// always deferred to disposal. The row keeps m even when the release fails.
func (s *Scope) replace(t *table[*registration], r *registration, m Manager) error {
	old := r.manager.Swap(&managerRef{m: m}).m
	inherited, pinned := r.inherited, r.pinned
	r.inherited, r.pinned = false, false
	s.opts.observer.Replaced()

	if inherited || same(old, m) || held(t, r, old) {
		return nil
	}
	switch v := old.(type) {
	case Releaser:
		if pinned {
			s.track(deferredRelease{v})
			return nil
		}
		if err := v.Release(); err != nil {
			s.opts.logger.Error(err, "Failed to release superseded manager", "type", r.typ.String())
			return fmt.Errorf("storage: release superseded manager of %s: %w", r.typ, err)
		}
	case io.Closer:
		s.track(v)
	}
	return nil
}

// held reports whether a row of t other than r still resolves to m. Managers
// that are not comparable are never considered held.
func held(t *table[*registration], r *registration, m Manager) bool {
	if !isComparable(m) {
		return false
	}
	count := t.count.Load()
	for i := uint32(1); i <= count; i++ {
		if other := t.rows[i]; other != r && same(other.manager.Load().m, m) {
			return true
		}
	}
	return false
}

// deferredRelease releases a superseded manager when the scope is disposed.
type deferredRelease struct {
	r Releaser
}

func (d deferredRelease) Close() error { return d.r.Release() }

// ownRegistry returns a registry table s may mutate, copying a shared one.
// Rows copied from another scope's table are inherited; rows copied from a
// table of s that a snapshot still references are pinned.
// The caller must hold registryMu.
func (s *Scope) ownRegistry() *table[*registration] {
	t := s.registry.Load()
	if t.private(s) {
		return t
	}
	foreign := t.owner != s
	t = t.clone(s, func(r *registration) *registration { return r.copyFor(foreign, !foreign) })
	s.registry.Store(t)
	return t
}

// expandRegistry grows t so it can hold required rows and publishes the new
// table. The caller must hold registryMu.
func (s *Scope) expandRegistry(t *table[*registration], required uint32) *table[*registration] {
	t = t.resize(required)
	s.registry.Store(t)
	s.resizes.Add(1)
	s.opts.observer.Resized("registry", t.capacity())
	s.opts.logger.V(1).Info("Registry table resized", "level", s.level, "capacity", t.capacity(), "registrations", t.count.Load())
	return t
}

// Lookup returns the unnamed manager of typ, searching s and then each
// ancestor. It takes no lock.
func (s *Scope) Lookup(typ TypeKey) (Manager, bool) {
	if typ.IsZero() {
		return nil, false
	}
	for scope := s; scope != nil; scope = scope.parent {
		t := scope.registry.Load()
		for position := t.head(typ.hash); position > 0; position = t.next(position) {
			if r := t.rows[position]; r.typ == typ && r.identity == 0 {
				return r.manager.Load().m, true
			}
		}
	}
	return nil, false
}

// LookupNamed returns the manager registered for typ under name, searching s
// and then each ancestor. An empty name is the unnamed lookup.
func (s *Scope) LookupNamed(typ TypeKey, name string) (Manager, bool) {
	if name == "" {
		return s.Lookup(typ)
	}
	if typ.IsZero() {
		return nil, false
	}
	nameHash := NameHash(name)
	hash := typ.named(nameHash)
	for scope := s; scope != nil; scope = scope.parent {
		identity := findIdentity(scope.contracts.Load(), nameHash, name)
		if identity == 0 {
			continue
		}
		t := scope.registry.Load()
		for position := t.head(hash); position > 0; position = t.next(position) {
			if r := t.rows[position]; r.typ == typ && r.identity == identity {
				return r.manager.Load().m, true
			}
		}
	}
	return nil, false
}

// IsRegistered reports whether typ has an unnamed registration visible from s.
func (s *Scope) IsRegistered(typ TypeKey) bool {
	_, ok := s.Lookup(typ)
	return ok
}

// IsRegisteredNamed reports whether typ is registered under name and visible
// from s.
func (s *Scope) IsRegisteredNamed(typ TypeKey, name string) bool {
	_, ok := s.LookupNamed(typ, name)
	return ok
}
