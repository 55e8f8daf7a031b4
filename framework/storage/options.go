package storage

import "github.com/go-logr/logr"

// Observer receives structural events from a scope. Implementations must be
// safe for concurrent use; calls are made while the scope's write lock is held.
type Observer interface {
	Registered(named bool)
	Replaced()
	Resized(table string, capacity int)
}

type nopObserver struct{}

func (nopObserver) Registered(bool)     {}
func (nopObserver) Replaced()           {}
func (nopObserver) Resized(string, int) {}

type options struct {
	registryPrime int
	contractPrime int
	self          Manager
	builtins      []TypeKey
	logger        logr.Logger
	observer      Observer
}

// Option configures a Scope.
type Option func(*options)

// WithRegistryCapacity sets the initial registry capacity as an index into
// the prime growth sequence.
func WithRegistryCapacity(prime int) Option {
	return func(o *options) { o.registryPrime = prime }
}

// WithContractCapacity sets the initial contract (name) capacity as an index
// into the prime growth sequence.
func WithContractCapacity(prime int) Option {
	return func(o *options) { o.contractPrime = prime }
}

// WithBuiltins pre-seeds the scope with internal registrations of types, all
// bound to self. Built-in rows are never released and are reported first by
// Registrations.
func WithBuiltins(self Manager, types ...TypeKey) Option {
	return func(o *options) {
		o.self = self
		o.builtins = types
	}
}

// WithLogger sets the logger used for growth and disposal events.
func WithLogger(logger logr.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver installs an Observer.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

func defaultOptions() options {
	return options{
		registryPrime: defaultRegistryPrime,
		contractPrime: defaultContractPrime,
		logger:        logr.Discard(),
		observer:      nopObserver{},
	}
}
