// Package lifetime holds the policies that decide how long a resolved value
// lives. A Manager stores (or refuses to store) the value its registration
// produced and frees it on Release.
package lifetime

import (
	"io"
	"sync"
)

// Manager is the value-holding half of a registration.
type Manager interface {
	// GetValue returns the stored value, if any.
	GetValue() (any, bool)
	// SetValue stores a freshly built value.
	SetValue(value any)
	// Release frees the stored value. It is safe to call more than once.
	Release() error
}

// ── Transient ─────────────────────────────────────────────────────────────────

// Transient never stores anything: every resolve builds a new value.
type Transient struct{}

// NewTransient returns a transient manager.
func NewTransient() *Transient { return &Transient{} }

func (*Transient) GetValue() (any, bool) { return nil, false }
func (*Transient) SetValue(any)          {}
func (*Transient) Release() error        { return nil }
func (*Transient) String() string        { return "transient" }

// ── ContainerControlled ───────────────────────────────────────────────────────

// ContainerControlled keeps the first value for the lifetime of its
// registration and closes it on Release when it implements io.Closer.
type ContainerControlled struct {
	mu    sync.RWMutex
	value any
	set   bool
}

// NewContainerControlled returns an empty singleton manager.
func NewContainerControlled() *ContainerControlled { return &ContainerControlled{} }

func (m *ContainerControlled) GetValue() (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value, m.set
}

func (m *ContainerControlled) SetValue(value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value, m.set = value, true
}

func (m *ContainerControlled) Release() error {
	m.mu.Lock()
	value := m.value
	m.value, m.set = nil, false
	m.mu.Unlock()

	if c, ok := value.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (*ContainerControlled) String() string { return "singleton" }

// ── External ──────────────────────────────────────────────────────────────────

// External stores a value whose lifetime is managed elsewhere. Release
// forgets the value without closing it.
type External struct {
	mu    sync.RWMutex
	value any
	set   bool
}

// NewExternal returns a manager holding value.
func NewExternal(value any) *External {
	return &External{value: value, set: true}
}

func (m *External) GetValue() (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value, m.set
}

func (m *External) SetValue(value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value, m.set = value, true
}

func (m *External) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value, m.set = nil, false
	return nil
}

func (*External) String() string { return "external" }

// Stores reports whether m keeps values between resolves.
func Stores(m Manager) bool {
	_, transient := m.(*Transient)
	return !transient
}
