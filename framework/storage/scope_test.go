package storage_test

import (
	"errors"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/km-arc/go-registry/framework/storage"
)

// ── helpers ──────────────────────────────────────────────────────────────────

type manager struct {
	id       int
	err      error
	released atomic.Int32
	log      *[]int
}

func (m *manager) Release() error {
	m.released.Add(1)
	if m.log != nil {
		*m.log = append(*m.log, m.id)
	}
	return m.err
}

type closer struct{ closed atomic.Int32 }

func (c *closer) Close() error { c.closed.Add(1); return nil }

type hidden struct{}

func (*hidden) Internal() bool { return true }

type (
	foo     struct{}
	bar     struct{}
	service interface{ Serve() }
)

var (
	fooKey = storage.TypeOf[foo]()
	barKey = storage.TypeOf[bar]()
)

// keys returns n distinct type keys.
func keys(n int) []storage.TypeKey {
	out := make([]storage.TypeKey, n)
	for i := range out {
		out[i] = storage.KeyOf(reflect.ArrayOf(i+1, reflect.TypeFor[byte]()))
	}
	return out
}

func one(k storage.TypeKey) []storage.TypeKey { return []storage.TypeKey{k} }

func lookup(t *testing.T, s *storage.Scope, k storage.TypeKey) storage.Manager {
	t.Helper()
	m, ok := s.Lookup(k)
	require.True(t, ok, "expected %s to be registered", k)
	return m
}

// ── Register / Lookup ─────────────────────────────────────────────────────────

func TestScope_RegisterThenLookup(t *testing.T) {
	root := storage.New()
	m := &manager{id: 1}

	require.False(t, root.IsRegistered(fooKey))
	require.NoError(t, root.RegisterAnonymous(one(fooKey), m))
	require.True(t, root.IsRegistered(fooKey))
	require.Same(t, m, lookup(t, root, fooKey))

	child := root.NewChild()
	require.Same(t, m, lookup(t, child, fooKey), "child should inherit")

	m2 := &manager{id: 2}
	require.NoError(t, child.RegisterAnonymous(one(fooKey), m2))
	require.Same(t, m2, lookup(t, child, fooKey))
	require.Same(t, m, lookup(t, root, fooKey), "parent must keep its own manager")
	require.Zero(t, m.released.Load(), "shadowing must not release the parent's manager")
}

func TestScope_NearestScopeWins(t *testing.T) {
	root := storage.New()
	left := root.NewChild()
	right := root.NewChild()
	grandchild := left.NewChild()

	inRoot, inLeft := &manager{id: 1}, &manager{id: 2}
	require.NoError(t, root.RegisterAnonymous(one(fooKey), inRoot))
	require.NoError(t, left.RegisterAnonymous(one(fooKey), inLeft))

	assert.Same(t, inLeft, lookup(t, left, fooKey))
	assert.Same(t, inLeft, lookup(t, grandchild, fooKey))
	assert.Same(t, inRoot, lookup(t, right, fooKey), "sibling resolves the ancestor")
	assert.Equal(t, 3, grandchild.Level())
}

func TestScope_LookupMissing(t *testing.T) {
	root := storage.New()
	_, ok := root.NewChild().Lookup(fooKey)
	assert.False(t, ok)
	_, ok = root.Lookup(storage.TypeKey{})
	assert.False(t, ok)
	assert.False(t, root.IsRegisteredNamed(fooKey, "x"))
}

func TestScope_Overwrite_ReleasesPrevious(t *testing.T) {
	s := storage.New()
	first, second := &manager{id: 1}, &manager{id: 2}

	require.NoError(t, s.RegisterAnonymous(one(fooKey), first))
	before := s.Contracts()
	require.NoError(t, s.RegisterAnonymous(one(fooKey), second))

	assert.Equal(t, before, s.Contracts(), "overwrite must not add a row")
	assert.Same(t, second, lookup(t, s, fooKey))
	assert.Equal(t, int32(1), first.released.Load())
	assert.Zero(t, second.released.Load())
}

func TestScope_Overwrite_Named(t *testing.T) {
	s := storage.New()
	first, second := &manager{id: 1}, &manager{id: 2}

	require.NoError(t, s.RegisterNamed(one(fooKey), "primary", first))
	require.NoError(t, s.RegisterNamed(one(fooKey), "primary", second))

	got, ok := s.LookupNamed(fooKey, "primary")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, int32(1), first.released.Load())
	assert.Len(t, s.References("primary"), 1)
	assert.Equal(t, 1, s.Names())
}

func TestScope_Overwrite_SharedManagerReleasedWithLastRow(t *testing.T) {
	s := storage.New()
	shared, next := &manager{id: 1}, &manager{id: 2}

	require.NoError(t, s.RegisterAnonymous([]storage.TypeKey{fooKey, barKey}, shared))
	require.NoError(t, s.RegisterAnonymous(one(fooKey), next))
	assert.Same(t, shared, lookup(t, s, barKey))
	assert.Zero(t, shared.released.Load(), "bar still resolves to the manager")

	require.NoError(t, s.RegisterAnonymous(one(barKey), next))
	assert.Equal(t, int32(1), shared.released.Load())

	require.NoError(t, s.Dispose())
	assert.Equal(t, int32(1), shared.released.Load())
	assert.Equal(t, int32(1), next.released.Load())
}

func TestScope_Overwrite_SharedManagerReleasedOnDispose(t *testing.T) {
	s := storage.New()
	shared := &manager{id: 1}

	require.NoError(t, s.RegisterAnonymous([]storage.TypeKey{fooKey, barKey}, shared))
	require.NoError(t, s.RegisterNamed(one(fooKey), "n", shared))
	require.NoError(t, s.RegisterAnonymous(one(fooKey), &manager{id: 2}))
	assert.Zero(t, shared.released.Load())

	require.NoError(t, s.Dispose())
	assert.Equal(t, int32(1), shared.released.Load())
}

func TestScope_ReregisterSameManager_NotReleased(t *testing.T) {
	s := storage.New()
	m := &manager{id: 1}
	require.NoError(t, s.RegisterAnonymous(one(fooKey), m))
	require.NoError(t, s.RegisterAnonymous(one(fooKey), m))
	assert.Zero(t, m.released.Load())
}

func TestScope_NameIsolation(t *testing.T) {
	s := storage.New()
	unnamed, a, b := &manager{id: 0}, &manager{id: 1}, &manager{id: 2}

	require.NoError(t, s.RegisterAnonymous(one(fooKey), unnamed))
	require.NoError(t, s.RegisterNamed(one(fooKey), "a", a))
	require.NoError(t, s.RegisterNamed(one(fooKey), "b", b))

	got, ok := s.LookupNamed(fooKey, "a")
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = s.LookupNamed(fooKey, "b")
	require.True(t, ok)
	assert.Same(t, b, got)

	assert.Same(t, unnamed, lookup(t, s, fooKey))
	assert.False(t, s.IsRegisteredNamed(fooKey, "c"))
	assert.False(t, s.IsRegisteredNamed(barKey, "a"))
	assert.Equal(t, 2, s.Names())
}

func TestScope_NamedLookup_FallsBackToParent(t *testing.T) {
	root := storage.New()
	child := root.NewChild()
	m := &manager{id: 1}

	require.NoError(t, root.RegisterNamed(one(fooKey), "db", m))
	// The child knows the name but not for this type.
	require.NoError(t, child.RegisterNamed(one(barKey), "db", &manager{id: 2}))

	got, ok := child.LookupNamed(fooKey, "db")
	require.True(t, ok)
	assert.Same(t, m, got)
}

func TestScope_EmptyNameIsUnnamed(t *testing.T) {
	s := storage.New()
	m := &manager{id: 1}
	require.NoError(t, s.RegisterNamed(one(fooKey), "", m))
	assert.Same(t, m, lookup(t, s, fooKey))
	assert.Zero(t, s.Names())
}

func TestScope_BatchSkipsZeroKeys(t *testing.T) {
	s := storage.New()
	m := &manager{id: 1}

	require.NoError(t, s.RegisterAnonymous([]storage.TypeKey{fooKey, {}, barKey}, m))
	assert.Equal(t, 2, s.Contracts())
	assert.Same(t, m, lookup(t, s, fooKey))
	assert.Same(t, m, lookup(t, s, barKey))

	require.NoError(t, s.RegisterNamed([]storage.TypeKey{{}, fooKey}, "n", m))
	assert.Equal(t, []uint32{3}, s.References("n"))
}

func TestScope_Named_OnlyZeroKeysAddsNoName(t *testing.T) {
	s := storage.New()
	require.NoError(t, s.RegisterNamed([]storage.TypeKey{{}, {}}, "n", &manager{}))
	assert.Zero(t, s.Names())
	assert.Nil(t, s.References("n"))
}

func TestScope_Named_DisposedAddsNoName(t *testing.T) {
	s := storage.New()
	require.NoError(t, s.Dispose())
	assert.ErrorIs(t, s.RegisterNamed(one(fooKey), "n", &manager{}), storage.ErrDisposed)
	assert.Zero(t, s.Names())
}

func TestScope_NilManager(t *testing.T) {
	s := storage.New()
	assert.ErrorIs(t, s.RegisterAnonymous(one(fooKey), nil), storage.ErrNilManager)
	assert.ErrorIs(t, s.RegisterNamed(one(fooKey), "n", nil), storage.ErrNilManager)
}

func TestScope_AsyncRegistrationUnsupported(t *testing.T) {
	s := storage.New()
	err := s.RegisterAnonymousAsync(t.Context(), one(fooKey), &manager{})
	assert.ErrorIs(t, err, storage.ErrAsyncUnsupported)
	assert.ErrorIs(t, err, errors.ErrUnsupported)

	err = s.RegisterNamedAsync(t.Context(), one(fooKey), "n", &manager{})
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	assert.False(t, s.IsRegistered(fooKey))
}

// ── Replacement failures ──────────────────────────────────────────────────────

func TestScope_ReleaseFailure_PropagatesAndKeepsNewManager(t *testing.T) {
	s := storage.New()
	boom := errors.New("boom")
	failing, next := &manager{id: 1, err: boom}, &manager{id: 2}

	require.NoError(t, s.RegisterAnonymous([]storage.TypeKey{fooKey, barKey}, failing))
	err := s.RegisterAnonymous([]storage.TypeKey{fooKey, barKey}, next)

	require.ErrorIs(t, err, boom)
	assert.Same(t, next, lookup(t, s, fooKey), "replacement is not rolled back")
	assert.Same(t, next, lookup(t, s, barKey), "the batch continues after a failure")
}

func TestScope_CloserDeferredUntilDispose(t *testing.T) {
	s := storage.New()
	c := &closer{}

	require.NoError(t, s.RegisterAnonymous(one(fooKey), c))
	require.NoError(t, s.RegisterAnonymous(one(fooKey), &manager{id: 2}))
	assert.Zero(t, c.closed.Load(), "plain closers wait for disposal")

	require.NoError(t, s.Dispose())
	assert.Equal(t, int32(1), c.closed.Load())
}

// ── Growth ────────────────────────────────────────────────────────────────────

func TestScope_Growth_OneResizePastLoadFactor(t *testing.T) {
	s := storage.New()
	capacity := s.Stats().RegistryCapacity
	limit := int(float64(capacity) * storage.LoadFactor)

	pool := keys(limit + 1)
	managers := make([]*manager, len(pool))
	for i := range limit {
		managers[i] = &manager{id: i}
		require.NoError(t, s.RegisterAnonymous(one(pool[i]), managers[i]))
	}
	require.Zero(t, s.Stats().Resizes, "filling up to the load factor must not grow")

	managers[limit] = &manager{id: limit}
	require.NoError(t, s.RegisterAnonymous(one(pool[limit]), managers[limit]))

	stats := s.Stats()
	assert.Equal(t, uint32(1), stats.Resizes)
	assert.Greater(t, stats.RegistryCapacity, capacity)
	assert.Equal(t, limit+1, stats.Registrations)
	for i, k := range pool {
		assert.Same(t, managers[i], lookup(t, s, k))
	}
}

func TestScope_Growth_BatchExpandsOnce(t *testing.T) {
	s := storage.New()
	pool := keys(500)
	m := &manager{id: 1}

	require.NoError(t, s.RegisterAnonymous(pool, m))

	stats := s.Stats()
	assert.Equal(t, uint32(1), stats.Resizes)
	assert.LessOrEqual(t, float64(stats.Registrations), float64(stats.RegistryCapacity)*storage.LoadFactor)
	for _, k := range pool {
		assert.True(t, s.IsRegistered(k))
	}
}

func TestScope_Growth_ManyNames(t *testing.T) {
	s := storage.New()
	pool := keys(3)
	names := make([]string, 60)
	for i := range names {
		names[i] = "name-" + string(rune('A'+i))
		require.NoError(t, s.RegisterNamed(pool, names[i], &manager{id: i}))
	}

	assert.Equal(t, len(names), s.Names())
	assert.Greater(t, s.Stats().ContractCapacity, 3)
	for i, name := range names {
		for _, k := range pool {
			got, ok := s.LookupNamed(k, name)
			require.True(t, ok, "%s/%s", k, name)
			assert.Equal(t, i, got.(*manager).id)
		}
	}
}

// ── Snapshots ─────────────────────────────────────────────────────────────────

func TestScope_CreateChild_CopyOnWrite(t *testing.T) {
	root := storage.New()
	s := root.NewChild()
	original := &manager{id: 1}
	require.NoError(t, s.RegisterAnonymous(one(fooKey), original))
	require.NoError(t, s.RegisterNamed(one(fooKey), "n", original))

	snap := s.CreateChild()
	assert.Equal(t, s.Version()+1, snap.Version())
	assert.Same(t, root, snap.Parent())
	assert.Equal(t, s.Level(), snap.Level())
	assert.Same(t, original, lookup(t, snap, fooKey), "snapshot shares the source rows")

	// Diverge on the snapshot.
	override := &manager{id: 2}
	require.NoError(t, snap.RegisterAnonymous(one(fooKey), override))
	require.NoError(t, snap.RegisterAnonymous(one(barKey), override))
	require.NoError(t, snap.RegisterNamed(one(barKey), "n", override))

	assert.Same(t, override, lookup(t, snap, fooKey))
	assert.Same(t, original, lookup(t, s, fooKey), "source must not see snapshot writes")
	assert.False(t, s.IsRegistered(barKey))
	assert.False(t, s.IsRegisteredNamed(barKey, "n"))
	assert.Len(t, s.References("n"), 1)
	assert.Len(t, snap.References("n"), 2)
	assert.Zero(t, original.released.Load(), "snapshot must not release managers it does not own")

	// Diverge on the source.
	type baz struct{}
	require.NoError(t, s.RegisterAnonymous(one(storage.TypeOf[baz]()), &manager{id: 3}))
	assert.False(t, snap.IsRegistered(storage.TypeOf[baz]()))

	require.NoError(t, snap.Dispose())
	assert.Zero(t, original.released.Load())
	require.NoError(t, s.Dispose())
	assert.Equal(t, int32(1), original.released.Load())
}

func TestScope_CreateChild_SourceOverwriteKeepsSnapshotManager(t *testing.T) {
	s := storage.New()
	original, next := &manager{id: 1}, &manager{id: 2}
	require.NoError(t, s.RegisterAnonymous(one(fooKey), original))

	snap := s.CreateChild()
	require.NoError(t, s.RegisterAnonymous(one(fooKey), next))

	assert.Same(t, next, lookup(t, s, fooKey))
	assert.Same(t, original, lookup(t, snap, fooKey))
	assert.Zero(t, original.released.Load(), "the snapshot still resolves to it")

	// A second overwrite supersedes a manager the snapshot never saw.
	require.NoError(t, s.RegisterAnonymous(one(fooKey), &manager{id: 3}))
	assert.Equal(t, int32(1), next.released.Load())

	require.NoError(t, snap.Dispose())
	assert.Zero(t, original.released.Load())
	require.NoError(t, s.Dispose())
	assert.Equal(t, int32(1), original.released.Load())
}

// ── Enumeration ───────────────────────────────────────────────────────────────

func TestScope_Registrations(t *testing.T) {
	self := &manager{id: 100}
	root := storage.New(storage.WithBuiltins(self, storage.TypeOf[*storage.Scope]()))
	child := root.NewChild(storage.WithBuiltins(self, storage.TypeOf[*storage.Scope]()))

	inRoot, inChild, named := &manager{id: 1}, &manager{id: 2}, &manager{id: 3}
	require.NoError(t, root.RegisterAnonymous([]storage.TypeKey{fooKey, barKey}, inRoot))
	require.NoError(t, root.RegisterAnonymous(one(storage.TypeOf[service]()), &hidden{}))
	require.NoError(t, child.RegisterAnonymous(one(fooKey), inChild))
	require.NoError(t, child.RegisterNamed(one(fooKey), "n", named))

	var got []storage.Registration
	for r := range child.Registrations() {
		got = append(got, r)
	}

	require.Len(t, got, 4)
	assert.Equal(t, storage.TypeOf[*storage.Scope](), got[0].Type, "built-ins come first")
	assert.Same(t, self, got[0].Manager)

	assert.Contains(t, got, storage.Registration{Type: fooKey, Manager: inChild})
	assert.Contains(t, got, storage.Registration{Type: fooKey, Name: "n", Manager: named})
	assert.Contains(t, got, storage.Registration{Type: barKey, Manager: inRoot})
	assert.NotContains(t, got, storage.Registration{Type: fooKey, Manager: inRoot}, "shadowed row")
}

func TestScope_Types_IncludesInternal(t *testing.T) {
	self := &manager{id: 100}
	scopeKey := storage.TypeOf[*storage.Scope]()
	root := storage.New(storage.WithBuiltins(self, scopeKey))
	child := root.NewChild()

	require.NoError(t, root.RegisterAnonymous(one(storage.TypeOf[service]()), &hidden{}))
	require.NoError(t, root.RegisterAnonymous(one(fooKey), &manager{id: 1}))
	require.NoError(t, child.RegisterNamed(one(fooKey), "n", &manager{id: 2}))

	got := slices.Collect(child.Types())
	assert.ElementsMatch(t, []storage.TypeKey{fooKey, scopeKey, storage.TypeOf[service]()}, got)
	assert.Equal(t, fooKey, got[0], "nearest scope first")
}

func TestScope_Registrations_StopsEarly(t *testing.T) {
	s := storage.New()
	require.NoError(t, s.RegisterAnonymous(keys(10), &manager{}))

	n := 0
	for range s.Registrations() {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

// ── Dispose ───────────────────────────────────────────────────────────────────

func TestScope_Dispose(t *testing.T) {
	var order []int
	self := &manager{id: 0, log: &order}
	s := storage.New(storage.WithBuiltins(self, fooKey))
	first := &manager{id: 1, log: &order}
	second := &manager{id: 2, log: &order}

	pool := keys(3)
	require.NoError(t, s.RegisterAnonymous(pool, first))
	require.NoError(t, s.RegisterNamed(one(barKey), "n", second))

	require.NoError(t, s.Dispose())
	assert.Equal(t, []int{2, 1}, order, "reverse order, each manager once, built-ins skipped")
	assert.True(t, s.Disposed())

	assert.ErrorIs(t, s.RegisterAnonymous(one(barKey), first), storage.ErrDisposed)
	assert.ErrorIs(t, s.RegisterNamed(one(barKey), "n", first), storage.ErrDisposed)
	assert.NoError(t, s.Dispose(), "second dispose is a no-op")
	assert.Equal(t, []int{2, 1}, order)
}

func TestScope_Dispose_DescendantStillResolves(t *testing.T) {
	parent := storage.New()
	child := parent.NewChild()
	m := &manager{id: 1}
	require.NoError(t, parent.RegisterNamed(one(fooKey), "n", m))

	require.NoError(t, parent.Dispose())
	// Recycle the returned bucket arrays.
	for range 4 {
		other := storage.New()
		require.NoError(t, other.RegisterAnonymous(keys(5), &manager{}))
	}

	got, ok := child.LookupNamed(fooKey, "n")
	require.True(t, ok)
	assert.Same(t, m, got)
	assert.Equal(t, int32(1), m.released.Load())
}

func TestScope_Dispose_JoinsFailures(t *testing.T) {
	s := storage.New()
	e1, e2 := errors.New("one"), errors.New("two")
	require.NoError(t, s.RegisterAnonymous(one(fooKey), &manager{err: e1}))
	require.NoError(t, s.RegisterAnonymous(one(barKey), &manager{err: e2}))

	err := s.Dispose()
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
}

// ── Concurrency ───────────────────────────────────────────────────────────────

func TestScope_ConcurrentLookupDuringRegistration(t *testing.T) {
	const writers, readers, perWriter = 4, 8, 250

	root := storage.New()
	s := root.NewChild()
	pool := keys(writers * perWriter)
	managers := make([]*manager, len(pool))
	for i := range managers {
		managers[i] = &manager{id: i}
	}

	var (
		wg   sync.WaitGroup
		done atomic.Bool
		bad  atomic.Int32
	)
	for r := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := r; !done.Load(); i = (i + 7) % len(pool) {
				m, ok := s.Lookup(pool[i])
				if ok && m != managers[i] {
					bad.Add(1)
				}
				if m, ok := s.LookupNamed(pool[i], "named"); ok && m != managers[i] {
					bad.Add(1)
				}
			}
		}()
	}

	var writersWG sync.WaitGroup
	for w := range writers {
		writersWG.Add(1)
		go func() {
			defer writersWG.Done()
			for i := w * perWriter; i < (w+1)*perWriter; i++ {
				assert.NoError(t, s.RegisterAnonymous(one(pool[i]), managers[i]))
				assert.NoError(t, s.RegisterNamed(one(pool[i]), "named", managers[i]))
			}
		}()
	}
	writersWG.Wait()
	done.Store(true)
	wg.Wait()

	require.Zero(t, bad.Load(), "a lookup returned a manager that was never committed for its key")
	for i, k := range pool {
		assert.Same(t, managers[i], lookup(t, s, k))
	}
	assert.Len(t, s.References("named"), len(pool))
}

func TestScope_ConcurrentIdentityCreation(t *testing.T) {
	s := storage.New()
	pool := keys(16)

	var wg sync.WaitGroup
	for i := range pool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RegisterNamed(one(pool[i]), "shared", &manager{id: i}))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, s.Names(), "one identity per name")
	refs := s.References("shared")
	slices.Sort(refs)
	assert.Len(t, slices.Compact(refs), len(pool))
}

// ── Properties ────────────────────────────────────────────────────────────────

type modelKey struct {
	key  int
	name string
}

func TestScope_MatchesModel(t *testing.T) {
	pool := keys(40)
	names := []string{"", "a", "b", "c"}

	rapid.Check(t, func(rt *rapid.T) {
		root := storage.New()
		child := root.NewChild()
		scopes := []*storage.Scope{root, child}
		models := []map[modelKey]*manager{{}, {}}

		ops := rapid.IntRange(1, 150).Draw(rt, "ops")
		for i := range ops {
			si := rapid.IntRange(0, 1).Draw(rt, "scope")
			ki := rapid.IntRange(0, len(pool)-1).Draw(rt, "key")
			name := rapid.SampledFrom(names).Draw(rt, "name")

			m := &manager{id: i}
			require.NoError(rt, scopes[si].RegisterNamed(one(pool[ki]), name, m))
			models[si][modelKey{ki, name}] = m
		}

		for ki, k := range pool {
			for _, name := range names {
				want, ok := models[1][modelKey{ki, name}]
				if !ok {
					want, ok = models[0][modelKey{ki, name}]
				}
				got, found := child.LookupNamed(k, name)
				require.Equal(rt, ok, found, "%s/%q", k, name)
				if ok {
					require.Same(rt, want, got)
				}
			}
		}
		require.Equal(rt, len(models[1]), child.Contracts())
		require.Equal(rt, len(models[0]), root.Contracts())
	})
}
