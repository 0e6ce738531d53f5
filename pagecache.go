package pagecache

import (
	"fmt"
	"io"
	"sort"

	"github.com/dargueta/pagecache/common"
	"github.com/dargueta/pagecache/directio"
	"github.com/dargueta/pagecache/errors"
	"github.com/hashicorp/go-multierror"
)

// Open opens `path` read-write, creating it with mode 0644 if absent, and
// returns a handle for it. The file is registered with the shared cache
// pool; all I/O on the handle goes through the pool in whole blocks.
func (cache *Cache) Open(path string) (Handle, error) {
	file, err := directio.OpenFile(path, cache.direct, 0644)
	if err != nil {
		return common.InvalidHandle, errors.ErrOpenFailed.Wrap(err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return common.InvalidHandle, errors.ErrOpenFailed.Wrap(err)
	}

	handle := cache.nextHandle
	cache.nextHandle++

	err = cache.pool.Attach(handle, file)
	if err != nil {
		file.Close()
		return common.InvalidHandle, err
	}

	cache.files[handle] = &fileState{
		file: file,
		size: info.Size(),
	}
	return handle, nil
}

// Close flushes the handle's dirty blocks, trims the direct-I/O block
// padding back to the logical size, and releases the underlying descriptor.
// If the flush fails the handle stays open so the caller can retry or Sync.
func (cache *Cache) Close(handle Handle) error {
	state, err := cache.lookupHandle(handle)
	if err != nil {
		return err
	}

	err = cache.pool.FlushHandle(handle)
	if err != nil {
		return err
	}
	err = cache.trimPadding(state)
	if err != nil {
		return err
	}

	// Past this point the handle is gone even if the descriptor close
	// reports a failure; the data already hit the file.
	cache.pool.Detach(handle)
	delete(cache.files, handle)

	err = state.file.Close()
	if err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// Read copies up to len(p) bytes from the handle's current offset into `p`
// and advances the offset by the number of bytes copied. The count is
// clamped to the file's logical size; at end of data it returns 0, io.EOF.
//
// If a block load fails mid-read, the bytes copied before the failure are
// reported and the offset reflects them.
func (cache *Cache) Read(handle Handle, p []byte) (int, error) {
	state, err := cache.lookupHandle(handle)
	if err != nil {
		return 0, err
	}

	if len(p) == 0 {
		return 0, nil
	}
	if state.offset >= state.size {
		return 0, io.EOF
	}

	count := int64(len(p))
	if state.offset+count > state.size {
		count = state.size - state.offset
	}

	blockSize := int64(cache.pool.BlockSize())
	copied := int64(0)

	for copied < count {
		block := common.BlockIndex(state.offset / blockSize)
		inBlock := state.offset % blockSize
		chunk := min(count-copied, blockSize-inBlock)

		err = cache.pool.ReadBlock(handle, block)
		if err != nil {
			return int(copied), err
		}

		data := cache.pool.BlockData(handle, block)
		copy(p[copied:copied+chunk], data[inBlock:inBlock+chunk])

		copied += chunk
		state.offset += chunk
	}

	return int(copied), nil
}

// Write copies len(p) bytes from `p` to the handle's current offset and
// advances the offset. Every touched block is loaded first even when it is
// overwritten whole-block-at-a-time in principle: the region being written
// may be a strict subset of a block, so write is always read-modify-write.
//
// If a block load fails mid-write, the bytes copied before the failure are
// reported and the offset reflects them.
func (cache *Cache) Write(handle Handle, p []byte) (int, error) {
	state, err := cache.lookupHandle(handle)
	if err != nil {
		return 0, err
	}

	count := int64(len(p))
	blockSize := int64(cache.pool.BlockSize())
	copied := int64(0)

	for copied < count {
		block := common.BlockIndex(state.offset / blockSize)
		inBlock := state.offset % blockSize
		chunk := min(count-copied, blockSize-inBlock)

		err = cache.pool.ReadBlock(handle, block)
		if err != nil {
			return int(copied), err
		}

		data := cache.pool.BlockData(handle, block)
		copy(data[inBlock:inBlock+chunk], p[copied:copied+chunk])
		cache.pool.MarkDirty(handle, block)

		copied += chunk
		state.offset += chunk
		if state.offset > state.size {
			state.size = state.offset
		}
	}

	return int(copied), nil
}

// Seek repositions the handle's offset. `whence` is one of [io.SeekStart],
// [io.SeekCurrent], or [io.SeekEnd]; SeekEnd resolves against the logical
// size, since the cache is authoritative for unflushed writes. Seek performs
// no I/O and doesn't disturb cache state. A result below zero or an unknown
// `whence` fails with [errors.ErrInvalidArgument].
func (cache *Cache) Seek(handle Handle, offset int64, whence int) (int64, error) {
	state, err := cache.lookupHandle(handle)
	if err != nil {
		return 0, err
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = state.offset + offset
	case io.SeekEnd:
		target = state.size + offset
	default:
		return state.offset, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("unknown seek origin %d", whence),
		)
	}

	if target < 0 {
		return state.offset, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"seek(offset=%d, whence=%d) resolves to negative position %d",
				offset, whence, target,
			),
		)
	}

	state.offset = target
	return target, nil
}

// Sync writes back the handle's dirty blocks, trims the direct-I/O block
// padding back to the logical size, and forces the file's data and metadata
// to stable storage. A flush failure is reported before the OS sync is
// attempted.
func (cache *Cache) Sync(handle Handle) error {
	state, err := cache.lookupHandle(handle)
	if err != nil {
		return err
	}

	err = cache.pool.FlushHandle(handle)
	if err != nil {
		return err
	}

	err = cache.trimPadding(state)
	if err != nil {
		return err
	}

	err = state.file.Sync()
	if err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// Advise is reserved for a future prefetch policy and currently fails with
// [errors.ErrNotSupported] unconditionally.
func (cache *Cache) Advise(handle Handle, offset int64, hint AccessHint) error {
	return errors.ErrNotSupported.WithMessage("advise is not implemented")
}

// Shutdown closes every open handle, continuing past individual failures and
// reporting them all.
func (cache *Cache) Shutdown() error {
	handles := make([]Handle, 0, len(cache.files))
	for handle := range cache.files {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	var result *multierror.Error
	for _, handle := range handles {
		err := cache.Close(handle)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("handle %d: %w", handle, err))
		}
	}
	return result.ErrorOrNil()
}

func (cache *Cache) lookupHandle(handle Handle) (*fileState, error) {
	state, found := cache.files[handle]
	if !found {
		return nil, errors.ErrInvalidHandle.WithMessage(
			fmt.Sprintf("handle %d is not open", handle),
		)
	}
	return state, nil
}

// trimPadding cuts the file back to the handle's logical size. Write-back
// happens in whole blocks, so flushing the tail block pads the file out to a
// block boundary; the caller's contract is that the file holds exactly the
// bytes written, nothing more.
func (cache *Cache) trimPadding(state *fileState) error {
	info, err := state.file.Stat()
	if err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	if info.Size() <= state.size {
		return nil
	}

	err = state.file.Truncate(state.size)
	if err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	return nil
}
