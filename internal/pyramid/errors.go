package pyramid

import "errors"

var (
	// ErrClosed is returned by Resolve after Close.
	ErrClosed = errors.New("pyramid: resolver closed")

	// ErrForeignAddress is returned for an address built by another LevelSet.
	ErrForeignAddress = errors.New("pyramid: address belongs to another level set")

	// ErrBuildPanic reports a factory that panicked while building a tile.
	ErrBuildPanic = errors.New("pyramid: tile factory panicked")
)
