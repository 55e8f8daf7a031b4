package storage

import (
	"sync"
	"sync/atomic"
)

// metadata is one slot of a bucket array. The same array serves as the
// bucket heads (indexed by hash % len) and as the intrusive chain (indexed by
// row). Zero means empty / end of chain.
type metadata struct {
	position atomic.Uint32
	next     atomic.Uint32
}

// metaPools holds one *sync.Pool of metadata buffers per capacity.
var metaPools sync.Map

func rentMeta(size int) []metadata {
	if p, ok := metaPools.Load(size); ok {
		if buf, ok := p.(*sync.Pool).Get().(*[]metadata); ok {
			meta := *buf
			clear(meta)
			return meta
		}
	}
	return make([]metadata, size)
}

func returnMeta(meta []metadata) {
	if len(meta) == 0 {
		return
	}
	p, _ := metaPools.LoadOrStore(len(meta), &sync.Pool{})
	p.(*sync.Pool).Put(&meta)
}

// link splices index at the head of the chain for hash.
func link(meta []metadata, hash, index uint32) {
	bucket := hash % uint32(len(meta))
	meta[index].next.Store(meta[bucket].position.Load())
	meta[bucket].position.Store(index)
}

// row is implemented by the entries of both tables.
type row interface {
	rowHash() uint32
}

// table is the storage shared by the registry and contract indexes: a dense
// row array indexed 1..count plus its bucket metadata.
//
// A table is written only by the owning scope while it holds that table's
// lock. Rows are published to lock-free readers by the atomic store of their
// bucket head, so a reader that reaches a row through the chain always sees
// it fully built. Growth never edits a published table; it builds a larger
// one and swaps the scope's pointer.
type table[R row] struct {
	meta  []metadata
	rows  []R
	count atomic.Uint32
	max   uint32
	prime int

	// owner is the scope that allocated this table. shared is set once a
	// snapshot references it; after that every writer copies before
	// mutating.
	owner  *Scope
	shared atomic.Bool
}

func newTable[R row](owner *Scope, prime int) *table[R] {
	size := primeSize(prime)
	return &table[R]{
		meta:  rentMeta(size),
		rows:  make([]R, size),
		max:   maxLoad(size),
		prime: prime,
		owner: owner,
	}
}

func (t *table[R]) capacity() int { return len(t.meta) }

func (t *table[R]) head(hash uint32) uint32 {
	return t.meta[hash%uint32(len(t.meta))].position.Load()
}

func (t *table[R]) next(position uint32) uint32 {
	return t.meta[position].next.Load()
}

// private reports whether owner may mutate t in place.
func (t *table[R]) private(owner *Scope) bool {
	return t.owner == owner && !t.shared.Load()
}

// append stores r at the next index and links it into its bucket.
func (t *table[R]) append(r R) uint32 {
	index := t.count.Load() + 1
	t.rows[index] = r
	link(t.meta, r.rowHash(), index)
	t.count.Store(index)
	return index
}

// rebuild relinks rows 1..count head-first in ascending order.
func (t *table[R]) rebuild() {
	count := t.count.Load()
	for i := uint32(1); i <= count; i++ {
		link(t.meta, t.rows[i].rowHash(), i)
	}
}

// resize returns a copy of t sized for required rows. Row indices are kept;
// the bucket chains are rebuilt into a fresh metadata array.
func (t *table[R]) resize(required uint32) *table[R] {
	prime, size := capacityFor(int(required))
	return t.copyInto(t.owner, prime, size, nil)
}

// clone returns a private same-size copy of t for owner. Each row is passed
// through dup so mutable row state is not shared with the source.
func (t *table[R]) clone(owner *Scope, dup func(R) R) *table[R] {
	return t.copyInto(owner, t.prime, t.capacity(), dup)
}

// detach returns a view of t backed by unpooled metadata, so t.meta can be
// recycled while descendants of the owner may still probe it.
func (t *table[R]) detach() *table[R] {
	next := &table[R]{
		meta:  make([]metadata, len(t.meta)),
		rows:  t.rows,
		max:   t.max,
		prime: t.prime,
		owner: t.owner,
	}
	next.count.Store(t.count.Load())
	next.rebuild()
	return next
}

func (t *table[R]) copyInto(owner *Scope, prime, size int, dup func(R) R) *table[R] {
	count := t.count.Load()
	next := &table[R]{
		meta:  rentMeta(size),
		rows:  make([]R, size),
		max:   maxLoad(size),
		prime: prime,
		owner: owner,
	}
	copy(next.rows, t.rows[:count+1])
	if dup != nil {
		for i := uint32(1); i <= count; i++ {
			next.rows[i] = dup(next.rows[i])
		}
	}
	next.count.Store(count)
	next.rebuild()
	return next
}
