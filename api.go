// Package pagecache is a user-space block cache for file I/O. Files opened
// through it bypass the kernel page cache (O_DIRECT); the library manages
// its own fixed-size pool of page-aligned buffers, translates byte-granular
// reads and writes into block-granular device I/O, and serves repeated
// access to the same block from memory.
//
// A Cache and its handles are single-threaded by design. Concurrent use
// requires external mutual exclusion.
package pagecache

import (
	"fmt"
	"os"

	"github.com/dargueta/pagecache/blockcache"
	"github.com/dargueta/pagecache/common"
	"github.com/dargueta/pagecache/errors"
)

// Handle identifies an open file. See [common.Handle].
type Handle = common.Handle

// DefaultBlockSize is the block size used when callers pass 0 to [New] or
// [NewBuffered].
const DefaultBlockSize = common.DefaultBlockSize

// AccessHint is the argument to [Cache.Advise]. Reserved for a future
// prefetch policy.
type AccessHint int64

const (
	// HintSequential declares that the caller intends to read forward from
	// the given offset.
	HintSequential = AccessHint(iota)
	// HintRandom declares that the caller's accesses follow no useful order.
	HintRandom
)

// Cache owns a pool of aligned block buffers and the table of open files
// that share it. Capacity and block size are fixed at construction.
type Cache struct {
	pool       *blockcache.Cache
	files      map[common.Handle]*fileState
	nextHandle common.Handle
	direct     bool
}

// fileState is the per-handle bookkeeping: the underlying descriptor, the
// current byte offset, and the logical size. The logical size is the
// high-water mark of writes; it can run ahead of the on-disk size while
// dirty blocks are resident.
type fileState struct {
	file *os.File
	// offset is the handle's current position. Always >= 0.
	offset int64
	size   int64
}

// New creates a cache with `capacity` slots of `blockSize` bytes each. Files
// opened through it use direct I/O, so blockSize must satisfy the alignment
// the file system demands: a power of two, at least 512 bytes (4096 covers
// every modern file system; see [directio.BestAlignment]). Passing 0 selects
// [DefaultBlockSize].
func New(capacity, blockSize uint) (*Cache, error) {
	return newCache(capacity, blockSize, true)
}

// NewBuffered is [New] without the page-cache bypass, for file systems that
// reject O_DIRECT (tmpfs, some network mounts). Cache behavior is identical;
// only the underlying open flags differ.
func NewBuffered(capacity, blockSize uint) (*Cache, error) {
	return newCache(capacity, blockSize, false)
}

func newCache(capacity, blockSize uint, direct bool) (*Cache, error) {
	if blockSize == 0 {
		blockSize = common.DefaultBlockSize
	}
	if blockSize < 512 || blockSize&(blockSize-1) != 0 {
		return nil, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"block size must be a power of two >= 512, got %d", blockSize,
			),
		)
	}

	return &Cache{
		pool:   blockcache.New(capacity, blockSize),
		files:  make(map[common.Handle]*fileState),
		direct: direct,
	}, nil
}

// BlockSize returns the size of one cache block, in bytes.
func (cache *Cache) BlockSize() uint {
	return cache.pool.BlockSize()
}

// Capacity returns the number of slots in the cache pool.
func (cache *Cache) Capacity() uint {
	return cache.pool.Capacity()
}

// Stats returns a snapshot of the pool's counters.
func (cache *Cache) Stats() blockcache.Stats {
	return cache.pool.Stats()
}
