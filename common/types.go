// Package common contains definitions of fundamental types shared by the
// cache pool and the file facade.
package common

import "io"

// Handle identifies an open file within the library. Handles are allocated
// from a monotonically increasing counter and are never reused for the
// lifetime of a cache, so a stale handle can't alias a live one.
type Handle int

// BlockIndex is the index of a fixed-size block within a file. Block B covers
// bytes [B*BlockSize, (B+1)*BlockSize) of the underlying file.
type BlockIndex uint64

const InvalidHandle = Handle(-1)

// Device is the positioned-I/O contract the cache pool drives. The facade
// registers one per handle; *os.File satisfies it directly.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

// DefaultBlockSize is the block size used when callers have no stronger
// opinion. 4096 satisfies the direct-I/O alignment requirement on every file
// system we care about.
const DefaultBlockSize = 4096
