// Package blockcache implements the pool of aligned block buffers shared by
// every file opened through the library. The pool has a fixed number of
// slots; blocks are loaded on demand, evicted with the Clock (second-chance)
// policy, and written back when dirty.
//
// All block indices begin at 0.
package blockcache

import (
	"fmt"
	"io"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/pagecache/alignedbuf"
	"github.com/dargueta/pagecache/common"
	"github.com/dargueta/pagecache/errors"
)

// CacheKey identifies one block of one open file. At most one slot holds a
// given key at any moment.
type CacheKey struct {
	Handle common.Handle
	Block  common.BlockIndex
}

// slot is one position in the pool. A slot with a nil buffer is empty; an
// occupied slot owns exactly one buffer, tagged with the key it was loaded
// for.
type slot struct {
	key CacheKey
	buf *alignedbuf.Buffer
}

// Stats is a snapshot of the pool's counters. The CSV tags are used by the
// CLI to emit a stats row.
type Stats struct {
	// Hits counts ReadBlock calls satisfied without touching the device.
	Hits uint64 `csv:"hits"`
	// Misses counts ReadBlock calls that found the block absent from the pool,
	// whether or not the load that followed succeeded.
	Misses uint64 `csv:"misses"`
	// Loads counts successful positioned reads against a device.
	Loads uint64 `csv:"loads"`
	// Writebacks counts successful positioned writes of dirty blocks, whether
	// they were triggered by eviction or by a flush.
	Writebacks uint64 `csv:"writebacks"`
	// Evictions counts slots returned to the empty state by the Clock sweep.
	Evictions uint64 `csv:"evictions"`
	// Flushes counts FlushHandle invocations.
	Flushes uint64 `csv:"flushes"`
}

// Cache is a fixed-capacity pool of aligned block buffers. It is shared by
// all handles registered with Attach, and is not safe for concurrent use.
type Cache struct {
	slots []slot
	// occupied mirrors the set of non-nil slot buffers; 1 means occupied.
	// Kept so the empty-slot scan doesn't chase pointers.
	occupied bitmap.Bitmap
	// lookup maps keys to slot positions. It lists exactly the occupied
	// slots; every slot transition edits it in the same step.
	lookup    map[CacheKey]int
	devices   map[common.Handle]common.Device
	hand      int
	blockSize uint
	stats     Stats
}

// New creates a pool with `capacity` slots of `blockSize` bytes each. Both
// are fixed for the cache's lifetime. Buffers are allocated lazily, on the
// first miss that needs a given slot.
func New(capacity, blockSize uint) *Cache {
	return &Cache{
		slots:     make([]slot, capacity),
		occupied:  bitmap.NewSlice(int(capacity)),
		lookup:    make(map[CacheKey]int),
		devices:   make(map[common.Handle]common.Device),
		blockSize: blockSize,
	}
}

// BlockSize returns the size of a single block, in bytes.
func (cache *Cache) BlockSize() uint {
	return cache.blockSize
}

// Capacity returns the number of slots in the pool.
func (cache *Cache) Capacity() uint {
	return uint(len(cache.slots))
}

// Stats returns a snapshot of the pool's counters.
func (cache *Cache) Stats() Stats {
	return cache.stats
}

// Attach registers the device that backs `handle`. Every block tagged with
// `handle` is loaded from and written back to this device.
func (cache *Cache) Attach(handle common.Handle, device common.Device) error {
	if _, exists := cache.devices[handle]; exists {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("handle %d already has a device attached", handle),
		)
	}
	cache.devices[handle] = device
	return nil
}

// Detach removes the device binding for `handle`. The caller must flush the
// handle first; any slots still tagged with it are left to age out through
// the Clock sweep. Handles are never reused, so a stale tag can't collide
// with a live one.
func (cache *Cache) Detach(handle common.Handle) {
	delete(cache.devices, handle)
}

// ReadBlock ensures block `block` of `handle` is resident in some slot and
// marks that slot recently used. A hit performs no device I/O. A miss takes
// an empty slot, or evicts one, then loads the block with a single
// positioned read. A short read near end-of-file zero-fills the remainder of
// the buffer; that is not an error.
func (cache *Cache) ReadBlock(handle common.Handle, block common.BlockIndex) error {
	key := CacheKey{Handle: handle, Block: block}
	if index, found := cache.lookup[key]; found {
		cache.slots[index].buf.SetReferenced(true)
		cache.stats.Hits++
		return nil
	}
	cache.stats.Misses++

	device, attached := cache.devices[handle]
	if !attached {
		return errors.ErrInvalidHandle.WithMessage(
			fmt.Sprintf("no device attached for handle %d", handle),
		)
	}

	index, found := cache.findEmptySlot()
	if !found {
		var err error
		index, err = cache.evictOne()
		if err != nil {
			return err
		}
	}

	buffer, err := alignedbuf.New(int(cache.blockSize), int(cache.blockSize), block)
	if err != nil {
		return err
	}

	err = cache.loadBlockFromDisk(device, buffer, block)
	if err != nil {
		// The slot stays empty; the failed buffer is dropped.
		return err
	}

	target := &cache.slots[index]
	target.key = key
	target.buf = buffer
	buffer.SetReferenced(true)
	cache.lookup[key] = index
	cache.occupied.Set(index, true)
	return nil
}

// BlockData returns the resident buffer for (handle, block), or nil if the
// block is not in the pool. It is a pure lookup: neither the reference bit
// nor the dirty bit changes. The returned slice is valid only until the next
// operation that may evict the slot.
func (cache *Cache) BlockData(handle common.Handle, block common.BlockIndex) []byte {
	index, found := cache.lookup[CacheKey{Handle: handle, Block: block}]
	if !found {
		return nil
	}
	return cache.slots[index].buf.Data()
}

// MarkDirty flags the resident block as modified. It silently does nothing
// if the block is not resident; callers always pair it with a preceding
// successful ReadBlock.
func (cache *Cache) MarkDirty(handle common.Handle, block common.BlockIndex) {
	index, found := cache.lookup[CacheKey{Handle: handle, Block: block}]
	if found {
		cache.slots[index].buf.SetDirty(true)
	}
}

// FlushHandle writes back every dirty block tagged with `handle`, in slot
// order, and marks each one clean. The first write failure is returned and
// halts further writes for the handle, so the error a caller sees is always
// the first one that occurred.
func (cache *Cache) FlushHandle(handle common.Handle) error {
	cache.stats.Flushes++
	for i := range cache.slots {
		entry := &cache.slots[i]
		if entry.buf == nil || entry.key.Handle != handle || !entry.buf.Dirty() {
			continue
		}
		err := cache.writeBlockToDisk(entry)
		if err != nil {
			return err
		}
		entry.buf.SetDirty(false)
	}
	return nil
}

// findEmptySlot returns the position of the first empty slot, if any.
func (cache *Cache) findEmptySlot() (int, bool) {
	for i := 0; i < len(cache.slots); i++ {
		if !cache.occupied.Get(i) {
			return i, true
		}
	}
	return 0, false
}

// evictOne frees one slot using the Clock sweep and returns its position.
//
// The hand examines at most 2*capacity slots: the first sweep clears every
// reference bit, so the second is guaranteed to find a candidate. If that
// candidate is dirty and its write-back fails, the sweep stops there with
// [errors.ErrEvictionExhausted] and the block stays resident; losing it
// would lose data.
func (cache *Cache) evictOne() (int, error) {
	capacity := len(cache.slots)
	if capacity == 0 {
		return 0, errors.ErrEvictionExhausted.WithMessage("cache has no slots")
	}

	for checks := 0; checks < 2*capacity; checks++ {
		entry := &cache.slots[cache.hand]

		if entry.buf == nil {
			// Degenerate case: the hand is parked on an empty slot. Normal
			// misses use the empty-slot scan before calling evictOne.
			return cache.hand, nil
		}

		if entry.buf.Referenced() {
			entry.buf.SetReferenced(false)
			cache.hand = (cache.hand + 1) % capacity
			continue
		}

		if entry.buf.Dirty() {
			err := cache.writeBlockToDisk(entry)
			if err != nil {
				return 0, errors.ErrEvictionExhausted.Wrap(err)
			}
			entry.buf.SetDirty(false)
		}

		index := cache.hand
		delete(cache.lookup, entry.key)
		cache.occupied.Set(index, false)
		entry.buf = nil
		entry.key = CacheKey{}
		cache.hand = (cache.hand + 1) % capacity
		cache.stats.Evictions++
		return index, nil
	}

	return 0, errors.ErrEvictionExhausted.WithMessage(
		fmt.Sprintf("no victim found after examining %d slots", 2*capacity),
	)
}

// loadBlockFromDisk fills `buffer` with block `block` from `device` using a
// single positioned read.
func (cache *Cache) loadBlockFromDisk(
	device common.Device,
	buffer *alignedbuf.Buffer,
	block common.BlockIndex,
) error {
	data := buffer.Data()
	offset := int64(block) * int64(cache.blockSize)

	bytesRead, err := device.ReadAt(data, offset)
	if err != nil && err != io.EOF {
		return errors.ErrIOFailed.Wrap(
			fmt.Errorf("failed to load block %d at offset %d: %w", block, offset, err),
		)
	}

	// A short read means the file ends inside this block. The tail reads as
	// zeroes until something writes it.
	for i := bytesRead; i < len(data); i++ {
		data[i] = 0
	}

	cache.stats.Loads++
	return nil
}

// writeBlockToDisk writes the slot's buffer back to its device with a single
// positioned write. A short write is an error; write-back must be complete.
func (cache *Cache) writeBlockToDisk(entry *slot) error {
	device, attached := cache.devices[entry.key.Handle]
	if !attached {
		return errors.ErrIOFailed.WithMessage(
			fmt.Sprintf("no device attached for handle %d", entry.key.Handle),
		)
	}

	data := entry.buf.Data()
	offset := int64(entry.key.Block) * int64(cache.blockSize)

	bytesWritten, err := device.WriteAt(data, offset)
	if err != nil {
		return errors.ErrIOFailed.Wrap(
			fmt.Errorf(
				"failed to write block %d back at offset %d: %w",
				entry.key.Block, offset, err,
			),
		)
	}
	if bytesWritten < len(data) {
		return errors.ErrIOFailed.WithMessage(
			fmt.Sprintf(
				"short write-back of block %d: %d of %d bytes",
				entry.key.Block, bytesWritten, len(data),
			),
		)
	}

	cache.stats.Writebacks++
	return nil
}
