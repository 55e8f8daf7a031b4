package storage

import "iter"

// Registration is one externally visible binding.
type Registration struct {
	Type    TypeKey
	Name    string
	Manager Manager
}

type registrationKey struct {
	typ  TypeKey
	name string
}

// Registrations returns the bindings visible from s. The built-ins of s come
// first, then the rows of s and of every ancestor, nearest scope first. A
// (type, name) pair already yielded by a nearer scope is suppressed, as are
// rows whose manager reports Internal.
//
// Each call walks the tables current at the time the sequence is ranged over;
// rows registered while iterating may or may not be seen.
func (s *Scope) Registrations() iter.Seq[Registration] {
	return func(yield func(Registration) bool) {
		estimate := 0
		for scope := s; scope != nil; scope = scope.parent {
			estimate += scope.Contracts()
		}
		seen := make(map[registrationKey]struct{}, estimate)

		t := s.registry.Load()
		for i := uint32(1); i <= s.builtins; i++ {
			r := t.rows[i]
			seen[registrationKey{typ: r.typ}] = struct{}{}
			if !yield(Registration{Type: r.typ, Manager: r.manager.Load().m}) {
				return
			}
		}

		for scope := s; scope != nil; scope = scope.parent {
			registry := scope.registry.Load()
			count := registry.count.Load()
			// Loaded after count so every identity referenced by rows 1..count is present.
			contracts := scope.contracts.Load()
			for i := scope.builtins + 1; i <= count; i++ {
				r := registry.rows[i]
				m := r.manager.Load().m
				if hidden, ok := m.(internal); ok && hidden.Internal() {
					continue
				}

				key := registrationKey{typ: r.typ}
				if r.identity != 0 {
					key.name = contracts.rows[r.identity].name
				}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				if !yield(Registration{Type: r.typ, Name: key.name, Manager: m}) {
					return
				}
			}
		}
	}
}

// Types returns each type key with a row visible from s once, nearest scope
// first. Unlike Registrations it includes built-ins of ancestors and rows
// whose manager reports Internal.
func (s *Scope) Types() iter.Seq[TypeKey] {
	return func(yield func(TypeKey) bool) {
		seen := make(map[TypeKey]struct{})
		for scope := s; scope != nil; scope = scope.parent {
			registry := scope.registry.Load()
			count := registry.count.Load()
			for i := uint32(1); i <= count; i++ {
				typ := registry.rows[i].typ
				if _, dup := seen[typ]; dup {
					continue
				}
				seen[typ] = struct{}{}
				if !yield(typ) {
					return
				}
			}
		}
	}
}
