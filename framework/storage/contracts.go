package storage

// contract is one identity row: a registration name shared by every registry
// row registered under it. references[0] holds the live count and
// references[1..count] the indices of those registry rows; it is guarded by
// the scope's registryMu. hash and name never change after publication.
type contract struct {
	hash       uint32
	name       string
	references []uint32
}

func (c *contract) rowHash() uint32 { return c.hash }

func (c *contract) clone() *contract {
	return &contract{hash: c.hash, name: c.name, references: append([]uint32(nil), c.references...)}
}

// findIdentity returns the identity index of name in t, or 0.
func findIdentity(t *table[*contract], hash uint32, name string) uint32 {
	for position := t.head(hash); position > 0; position = t.next(position) {
		if c := t.rows[position]; c.hash == hash && c.name == name {
			return position
		}
	}
	return 0
}

// identity returns the identity index for name, creating the contract row
// when absent with room for at least required references.
//
// The probe first runs without a lock. On a miss the contract lock is taken
// and the table probed again, since another writer may have added the name
// while this caller waited; only then is a row appended.
func (s *Scope) identity(hash uint32, name string, required int) uint32 {
	if index := findIdentity(s.contracts.Load(), hash, name); index != 0 {
		return index
	}

	s.contractMu.Lock()
	defer s.contractMu.Unlock()

	t := s.ownContractsLocked()
	if index := findIdentity(t, hash, name); index != 0 {
		return index
	}

	if count := t.count.Load(); count >= t.max {
		t = t.resize(count + 1)
		s.publishContracts(t)
	}
	return t.append(&contract{hash: hash, name: name, references: make([]uint32, required+1)})
}

// ownContracts returns a contract table s may mutate, copying a shared one.
// The caller must hold registryMu.
func (s *Scope) ownContracts() *table[*contract] {
	s.contractMu.Lock()
	defer s.contractMu.Unlock()
	return s.ownContractsLocked()
}

func (s *Scope) ownContractsLocked() *table[*contract] {
	t := s.contracts.Load()
	if t.private(s) {
		return t
	}
	t = t.clone(s, (*contract).clone)
	s.contracts.Store(t)
	return t
}

func (s *Scope) publishContracts(t *table[*contract]) {
	s.contracts.Store(t)
	s.resizes.Add(1)
	s.opts.observer.Resized("contracts", t.capacity())
	s.opts.logger.V(1).Info("Contract table resized", "level", s.level, "capacity", t.capacity(), "names", t.count.Load())
}

// References returns the indices of the registry rows registered in s under
// name, or nil when s holds no such name.
func (s *Scope) References(name string) []uint32 {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	t := s.contracts.Load()
	index := findIdentity(t, NameHash(name), name)
	if index == 0 {
		return nil
	}
	refs := t.rows[index].references
	return append([]uint32(nil), refs[1:refs[0]+1]...)
}
