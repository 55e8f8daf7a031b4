package storage

import (
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// hashSeed mixes a name hash into a type hash for named registry rows.
const hashSeed = 52361

// TypeKey identifies a requested contract. Two keys are equal only when they
// wrap the same reflect.Type; the hash is precomputed so lookups never touch
// the type descriptor.
//
// The zero TypeKey is the invalid key. Batch registrations skip it.
type TypeKey struct {
	typ  reflect.Type
	hash uint32
}

// KeyOf returns the key for t. A nil type yields the zero key.
func KeyOf(t reflect.Type) TypeKey {
	if t == nil {
		return TypeKey{}
	}
	sum := xxhash.Sum64String(t.PkgPath() + "." + t.String())
	return TypeKey{typ: t, hash: uint32(sum) ^ uint32(sum>>32)}
}

// TypeOf returns the key for T.
//
//	key := storage.TypeOf[UserRepository]()
func TypeOf[T any]() TypeKey {
	return KeyOf(reflect.TypeFor[T]())
}

// IsZero reports whether k is the invalid key.
func (k TypeKey) IsZero() bool { return k.typ == nil }

// Type returns the wrapped reflect.Type (nil for the zero key).
func (k TypeKey) Type() reflect.Type { return k.typ }

// Hash returns the unnamed bucket hash of k.
func (k TypeKey) Hash() uint32 { return k.hash }

func (k TypeKey) String() string {
	if k.typ == nil {
		return "<nil>"
	}
	return k.typ.String()
}

// named combines k's hash with a name hash produced by NameHash.
func (k TypeKey) named(nameHash uint32) uint32 {
	h := (k.hash ^ nameHash) * hashSeed
	return h ^ (h >> 15)
}

// NameHash hashes a registration name.
func NameHash(name string) uint32 {
	sum := xxhash.Sum64String(name)
	return uint32(sum) ^ uint32(sum>>32)
}
