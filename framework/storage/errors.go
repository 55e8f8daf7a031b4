package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrAsyncUnsupported is returned by every asynchronous registration
	// entry point. It wraps errors.ErrUnsupported and is never retryable.
	ErrAsyncUnsupported = fmt.Errorf("storage: asynchronous registration requires an extension: %w", errors.ErrUnsupported)

	// ErrDisposed indicates a registration against a disposed scope.
	ErrDisposed = errors.New("storage: scope is disposed")

	// ErrNilManager indicates a registration without a manager.
	ErrNilManager = errors.New("storage: manager must not be nil")
)
