package pagecache_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dargueta/pagecache"
	"github.com/dargueta/pagecache/errors"
	pctest "github.com/dargueta/pagecache/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

// newTestCache builds a buffered cache so the suite runs on file systems
// that reject O_DIRECT (tmpfs in CI containers, for one). The cache logic is
// identical either way; only the open flags differ.
func newTestCache(capacity uint, t *testing.T) *pagecache.Cache {
	cache, err := pagecache.NewBuffered(capacity, testBlockSize)
	require.NoError(t, err, "couldn't create cache")
	return cache
}

func tempFilePath(t *testing.T, name string) string {
	return filepath.Join(t.TempDir(), name)
}

func TestNew__RejectsBadBlockSize(t *testing.T) {
	badSizes := []uint{100, 511, 3000, 4097}
	for _, size := range badSizes {
		_, err := pagecache.NewBuffered(8, size)
		assert.ErrorIsf(t, err, errors.ErrInvalidArgument,
			"block size %d should have been rejected", size)
	}
}

func TestNew__ZeroBlockSizeSelectsDefault(t *testing.T) {
	cache, err := pagecache.NewBuffered(8, 0)
	require.NoError(t, err)
	assert.EqualValues(t, pagecache.DefaultBlockSize, cache.BlockSize())
}

// Basic write-seek-read smoke test on a freshly created file.
func TestWriteThenReadBack(t *testing.T) {
	cache := newTestCache(8, t)
	handle, err := cache.Open(tempFilePath(t, "smoke.bin"))
	require.NoError(t, err)

	greeting := []byte("Hello from the block cache!\n")
	n, err := cache.Write(handle, greeting)
	require.NoError(t, err)
	assert.Equal(t, len(greeting), n)

	position, err := cache.Seek(handle, 0, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 0, position)

	// The destination is much larger than the file; only the bytes that
	// exist come back.
	readBuffer := make([]byte, 99)
	n, err = cache.Read(handle, readBuffer)
	require.NoError(t, err)
	assert.Equal(t, len(greeting), n, "read must report true bytes copied")
	assert.True(t, bytes.Equal(readBuffer[:n], greeting))

	require.NoError(t, cache.Sync(handle))
	require.NoError(t, cache.Close(handle))
}

// Round-trip: whatever is written at any offset reads back identically,
// whether or not the span straddles block boundaries.
func TestRoundTrip(t *testing.T) {
	spans := []struct {
		name   string
		offset int64
		length uint
	}{
		{"within first block", 0, 100},
		{"straddling one boundary", 4000, 200},
		{"exactly one aligned block", 4096, 4096},
		{"several blocks unaligned", 5000, 10000},
		{"starting far past EOF", 50000, 300},
	}

	for _, span := range spans {
		t.Run(span.name, func(t *testing.T) {
			cache := newTestCache(8, t)
			handle, err := cache.Open(tempFilePath(t, "roundtrip.bin"))
			require.NoError(t, err)

			payload := pctest.CreateRandomImage(1, span.length, t)

			_, err = cache.Seek(handle, span.offset, io.SeekStart)
			require.NoError(t, err)
			n, err := cache.Write(handle, payload)
			require.NoError(t, err)
			require.Equal(t, int(span.length), n)

			_, err = cache.Seek(handle, span.offset, io.SeekStart)
			require.NoError(t, err)

			result := make([]byte, span.length)
			n, err = cache.Read(handle, result)
			require.NoError(t, err)
			require.Equal(t, int(span.length), n)
			assert.True(t, bytes.Equal(payload, result), "read-back differs from written data")

			require.NoError(t, cache.Close(handle))
		})
	}
}

// Writing past EOF leaves a zero-filled gap, and the file holds exactly the
// bytes written once read back in full.
func TestSparseWrite__GapReadsAsZeroes(t *testing.T) {
	const gapEnd = 1 << 20

	cache := newTestCache(4, t)
	handle, err := cache.Open(tempFilePath(t, "sparse.bin"))
	require.NoError(t, err)

	head := []byte("Data\n")
	tail := []byte(" after the gap\n")

	_, err = cache.Write(handle, head)
	require.NoError(t, err)

	position, err := cache.Seek(handle, gapEnd, io.SeekStart)
	require.NoError(t, err)
	require.EqualValues(t, gapEnd, position)

	_, err = cache.Write(handle, tail)
	require.NoError(t, err)

	_, err = cache.Seek(handle, 0, io.SeekStart)
	require.NoError(t, err)

	everything := make([]byte, gapEnd+len(tail))
	n, err := cache.Read(handle, everything)
	require.NoError(t, err)
	require.Equal(t, len(everything), n)

	assert.True(t, bytes.Equal(everything[:len(head)], head))
	assert.True(
		t,
		bytes.Equal(everything[len(head):gapEnd], make([]byte, gapEnd-len(head))),
		"the gap must read as zeroes")
	assert.True(t, bytes.Equal(everything[gapEnd:], tail))

	require.NoError(t, cache.Close(handle))
}

// After Sync returns, a fresh cache over the same path sees the same bytes,
// and the file holds exactly what was written with no block padding.
func TestSync__Durability(t *testing.T) {
	path := tempFilePath(t, "durable.bin")

	cache := newTestCache(2, t)
	handle, err := cache.Open(path)
	require.NoError(t, err)

	// Three distinct whole-block patterns through a two-slot cache, so at
	// least one write-back happens through eviction rather than flush.
	patterns := make([][]byte, 3)
	for i := range patterns {
		patterns[i] = bytes.Repeat([]byte{pctest.PatternByte(uint(i))}, testBlockSize)
		_, err = cache.Seek(handle, int64(i)*testBlockSize, io.SeekStart)
		require.NoError(t, err)
		_, err = cache.Write(handle, patterns[i])
		require.NoError(t, err)
	}

	require.NoError(t, cache.Sync(handle))
	require.NoError(t, cache.Shutdown())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 3*testBlockSize, info.Size(), "file size after sync is wrong")

	fresh := newTestCache(2, t)
	handle, err = fresh.Open(path)
	require.NoError(t, err)

	for i, pattern := range patterns {
		_, err = fresh.Seek(handle, int64(i)*testBlockSize, io.SeekStart)
		require.NoError(t, err)

		result := make([]byte, testBlockSize)
		n, err := fresh.Read(handle, result)
		require.NoError(t, err)
		require.Equal(t, testBlockSize, n)
		assert.Truef(t, bytes.Equal(pattern, result), "block %d changed across reopen", i)
	}

	require.NoError(t, fresh.Shutdown())
}

// A destination shorter than the file never over-reads.
func TestRead__ShortDestination(t *testing.T) {
	cache := newTestCache(8, t)
	handle, err := cache.Open(tempFilePath(t, "short-dest.bin"))
	require.NoError(t, err)

	payload := pctest.CreateRandomImage(1, testBlockSize, t)
	_, err = cache.Write(handle, payload)
	require.NoError(t, err)

	_, err = cache.Seek(handle, 0, io.SeekStart)
	require.NoError(t, err)

	small := make([]byte, 64)
	n, err := cache.Read(handle, small)
	require.NoError(t, err)
	assert.Equal(t, 64, n)
	assert.True(t, bytes.Equal(small, payload[:64]))

	require.NoError(t, cache.Close(handle))
}

// A file shorter than one block reads back exactly its own bytes.
func TestRead__FileShorterThanOneBlock(t *testing.T) {
	path := tempFilePath(t, "tiny.bin")
	content := []byte("ten bytes!")
	require.NoError(t, os.WriteFile(path, content, 0644))

	cache := newTestCache(4, t)
	handle, err := cache.Open(path)
	require.NoError(t, err)

	result := make([]byte, testBlockSize)
	n, err := cache.Read(handle, result)
	require.NoError(t, err)
	assert.Equal(t, len(content), n, "read past EOF must clamp to the file size")
	assert.True(t, bytes.Equal(result[:n], content))

	// The next read is at end of data.
	n, err = cache.Read(handle, result)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, cache.Close(handle))
}

// Offsets advance by exactly the number of bytes transferred.
func TestOffset__AdvancesByTransferredBytes(t *testing.T) {
	cache := newTestCache(8, t)
	handle, err := cache.Open(tempFilePath(t, "offsets.bin"))
	require.NoError(t, err)

	n, err := cache.Write(handle, make([]byte, 6000))
	require.NoError(t, err)
	require.Equal(t, 6000, n)

	position, err := cache.Seek(handle, 0, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 6000, position, "write didn't advance the offset correctly")

	_, err = cache.Seek(handle, 1000, io.SeekStart)
	require.NoError(t, err)
	n, err = cache.Read(handle, make([]byte, 2500))
	require.NoError(t, err)
	require.Equal(t, 2500, n)

	position, err = cache.Seek(handle, 0, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 3500, position, "read didn't advance the offset correctly")

	require.NoError(t, cache.Close(handle))
}

func TestSeek__WhenceModes(t *testing.T) {
	cache := newTestCache(8, t)
	handle, err := cache.Open(tempFilePath(t, "seek.bin"))
	require.NoError(t, err)

	_, err = cache.Write(handle, make([]byte, 1000))
	require.NoError(t, err)

	position, err := cache.Seek(handle, 100, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 100, position)

	position, err = cache.Seek(handle, 50, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 150, position)

	position, err = cache.Seek(handle, -200, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 800, position, "SeekEnd must resolve against the logical size")

	// Seeking past EOF is legal; reading there hits end of data.
	position, err = cache.Seek(handle, 5000, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 5000, position)
	n, err := cache.Read(handle, make([]byte, 10))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = cache.Seek(handle, -1, io.SeekStart)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	_, err = cache.Seek(handle, 0, 17)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument, "unknown whence must be rejected")

	// A failed seek leaves the offset where it was.
	position, err = cache.Seek(handle, 0, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 5000, position)

	require.NoError(t, cache.Close(handle))
}

func TestAdvise__Unsupported(t *testing.T) {
	cache := newTestCache(4, t)
	handle, err := cache.Open(tempFilePath(t, "advise.bin"))
	require.NoError(t, err)

	err = cache.Advise(handle, 0, pagecache.HintSequential)
	assert.ErrorIs(t, err, errors.ErrNotSupported)

	require.NoError(t, cache.Close(handle))
}

func TestInvalidHandle(t *testing.T) {
	cache := newTestCache(4, t)

	_, err := cache.Read(99, make([]byte, 10))
	assert.ErrorIs(t, err, errors.ErrInvalidHandle)
	_, err = cache.Write(99, make([]byte, 10))
	assert.ErrorIs(t, err, errors.ErrInvalidHandle)
	_, err = cache.Seek(99, 0, io.SeekStart)
	assert.ErrorIs(t, err, errors.ErrInvalidHandle)
	assert.ErrorIs(t, cache.Sync(99), errors.ErrInvalidHandle)
	assert.ErrorIs(t, cache.Close(99), errors.ErrInvalidHandle)
}

func TestClose__HandleIsGoneAfterwards(t *testing.T) {
	cache := newTestCache(4, t)
	handle, err := cache.Open(tempFilePath(t, "close.bin"))
	require.NoError(t, err)

	require.NoError(t, cache.Close(handle))
	assert.ErrorIs(t, cache.Close(handle), errors.ErrInvalidHandle)
}

// Two handles on two files through one pool must not contaminate each other
// even though their block indexes collide numerically.
func TestTwoFiles__SharedPoolIsolation(t *testing.T) {
	cache := newTestCache(4, t)

	first, err := cache.Open(tempFilePath(t, "first.bin"))
	require.NoError(t, err)
	second, err := cache.Open(tempFilePath(t, "second.bin"))
	require.NoError(t, err)

	contentA := bytes.Repeat([]byte{0x11}, 100)
	contentB := bytes.Repeat([]byte{0x22}, 100)
	_, err = cache.Write(first, contentA)
	require.NoError(t, err)
	_, err = cache.Write(second, contentB)
	require.NoError(t, err)

	_, err = cache.Seek(first, 0, io.SeekStart)
	require.NoError(t, err)
	_, err = cache.Seek(second, 0, io.SeekStart)
	require.NoError(t, err)

	result := make([]byte, 100)
	_, err = cache.Read(first, result)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(contentA, result))

	_, err = cache.Read(second, result)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(contentB, result))

	require.NoError(t, cache.Shutdown())
}

// A pool with zero slots can't hold any block; I/O through it must fail
// cleanly rather than corrupt anything.
func TestZeroCapacity__IOFails(t *testing.T) {
	cache := newTestCache(0, t)
	handle, err := cache.Open(tempFilePath(t, "zero.bin"))
	require.NoError(t, err)

	_, err = cache.Write(handle, []byte("data"))
	assert.ErrorIs(t, err, errors.ErrEvictionExhausted)

	require.NoError(t, cache.Close(handle))
}

// The pool's counters see facade traffic: repeated reads of one block load
// once and hit thereafter.
func TestStats__CountHitsAndLoads(t *testing.T) {
	cache := newTestCache(8, t)
	handle, err := cache.Open(tempFilePath(t, "stats.bin"))
	require.NoError(t, err)

	_, err = cache.Write(handle, make([]byte, 100))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err = cache.Seek(handle, 0, io.SeekStart)
		require.NoError(t, err)
		_, err = cache.Read(handle, make([]byte, 100))
		require.NoError(t, err)
	}

	stats := cache.Stats()
	assert.EqualValues(t, 1, stats.Loads, "block 0 must be loaded exactly once")
	assert.EqualValues(t, 4, stats.Hits)

	require.NoError(t, cache.Close(handle))
}
