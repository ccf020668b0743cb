package cache

import (
	"errors"
	"fmt"
)

// ErrCapacity reports a non-positive entry size or cache capacity.
var ErrCapacity = errors.New("cache: size must be positive")

// Listener is notified when an entry leaves the cache: eviction, explicit
// removal, replacement by Put, or Clear. The cache has already dropped the
// entry from its accounting when either method runs.
//
// EntryRemoved reports a cleanup failure by returning an error or
// panicking; the cache then calls RemovalError with a *CleanupError
// instead. Exactly one of the two completes for each removal.
type Listener[K comparable, V any] interface {
	EntryRemoved(key K, value V) error
	RemovalError(err error, key K, value V)
}

// CleanupError wraps the failure of a Listener's EntryRemoved.
type CleanupError struct {
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cache: removal cleanup failed: %v", e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// ListenerFuncs adapts a pair of functions to Listener. Nil fields are
// skipped.
type ListenerFuncs[K comparable, V any] struct {
	OnRemoved func(key K, value V) error
	OnError   func(err error, key K, value V)
}

func (l ListenerFuncs[K, V]) EntryRemoved(key K, value V) error {
	if l.OnRemoved == nil {
		return nil
	}
	return l.OnRemoved(key, value)
}

func (l ListenerFuncs[K, V]) RemovalError(err error, key K, value V) {
	if l.OnError != nil {
		l.OnError(err, key, value)
	}
}

// MultiListener fans a removal out to several listeners. Each one gets its
// own EntryRemoved/RemovalError outcome; one failing does not affect the
// others.
type MultiListener[K comparable, V any] []Listener[K, V]

func (m MultiListener[K, V]) EntryRemoved(key K, value V) error {
	for _, l := range m {
		Notify(l, key, value)
	}
	return nil
}

func (m MultiListener[K, V]) RemovalError(err error, key K, value V) {
	for _, l := range m {
		reportRemovalError(l, err, key, value)
	}
}

// Notify runs the removal protocol against l for a value that leaves its
// owner without passing through a Cache: exactly one of EntryRemoved and
// RemovalError completes. A nil l is a no-op.
func Notify[K comparable, V any](l Listener[K, V], key K, value V) {
	if l == nil {
		return
	}
	if err := entryRemoved(l, key, value); err != nil {
		reportRemovalError(l, &CleanupError{Err: err}, key, value)
	}
}

func entryRemoved[K comparable, V any](l Listener[K, V], key K, value V) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.EntryRemoved(key, value)
}

// reportRemovalError swallows panics: there is nobody left to tell.
func reportRemovalError[K comparable, V any](l Listener[K, V], err error, key K, value V) {
	defer func() { _ = recover() }()
	l.RemovalError(err, key, value)
}
