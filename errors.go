package objpool

import "errors"

// Sentinel errors returned by the pool's allocation-adjacent operations
// (spec §7). Push and Pop never surface these: push cannot fail under
// default sizing and pop signals emptiness by returning ok == false.
var (
	// ErrOutOfMemory is returned by New when slot or embedded-object
	// allocation fails partway through; any slots already allocated are
	// released before New returns.
	ErrOutOfMemory = errors.New("objpool: out of memory")

	// ErrInvalidArgument is returned by Populate (buffer already set,
	// misaligned buffer, zero stride, size smaller than stride) and by
	// AddScattered (pool already at capacity).
	ErrInvalidArgument = errors.New("objpool: invalid argument")

	// ErrNotFound is returned by Populate when no object fit in the
	// supplied buffer.
	ErrNotFound = errors.New("objpool: not found")

	// ErrUnsupported is returned by New when the requested core count
	// overflows the pool's 16-bit core field.
	ErrUnsupported = errors.New("objpool: unsupported configuration")
)
