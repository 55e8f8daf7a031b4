// Package storage is the registration store behind the container: it finds
// the manager bound to a (type, name) key in a tree of scopes.
//
// # Tables
//
// Each Scope owns two hash tables sharing one layout, a dense row array
// indexed from 1 and a bucket array of (position, next) pairs chaining rows
// with equal bucket:
//
//   - the contract table holds one row per distinct registration name;
//   - the registry table holds one row per (type, identity) pair, where
//     identity is the index of the name's contract row, or 0 when unnamed.
//
// Tables grow through a fixed prime sequence whenever occupancy would pass
// LoadFactor. Growth copies the rows into a larger array at the same indices,
// rebuilds every bucket chain and publishes the result with one atomic
// pointer store.
//
// # Concurrency
//
// Lookups never lock. Registrations on one scope are serialized; registrations
// on different scopes never block each other. A lookup ordered after a
// registration (for example on the same goroutine) always observes it.
//
// # Scopes
//
//	root := storage.New()
//	_ = root.RegisterAnonymous([]storage.TypeKey{storage.TypeOf[Cache]()}, manager)
//
//	child := root.NewChild()
//	m, ok := child.Lookup(storage.TypeOf[Cache]()) // inherited from root
//
// NewChild creates the scope of a child container. CreateChild creates a
// copy-on-write snapshot of a scope.
package storage
