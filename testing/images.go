package testing

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/require"
)

// CreateRandomImage returns an image with the given geometry filled with
// random bytes. It either returns a valid slice or fails the test.
func CreateRandomImage(bytesPerBlock, totalBlocks uint, t *testing.T) []byte {
	image := make([]byte, int(bytesPerBlock)*int(totalBlocks))

	_, err := rand.Read(image)
	require.NoErrorf(
		t, err, "failed to fill a %d-byte image with random bytes", len(image))
	return image
}

// PatternByte gives the fill byte for block `block` in a pattern image. The
// modulus keeps it nonzero so a patterned block can't be confused with a
// zero-filled one.
func PatternByte(block uint) byte {
	return byte(block%251) + 1
}

// CreatePatternImage returns an image where block i is filled entirely with
// PatternByte(i), so tests can tell at a glance which block ended up where.
func CreatePatternImage(bytesPerBlock, totalBlocks uint, t *testing.T) []byte {
	image := make([]byte, bytesPerBlock*totalBlocks)
	writer := bytewriter.New(image)

	for block := uint(0); block < totalBlocks; block++ {
		fill := bytes.Repeat([]byte{PatternByte(block)}, int(bytesPerBlock))
		_, err := writer.Write(fill)
		require.NoErrorf(t, err, "failed to fill block %d of the image", block)
	}
	return image
}
