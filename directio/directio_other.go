//go:build !linux

package directio

import "os"

// OpenFile opens `path` read-write, creating it if absent. This platform has
// no O_DIRECT; the `direct` flag is accepted and ignored so callers behave
// identically everywhere, just without the page-cache bypass.
func OpenFile(path string, direct bool, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, perm)
}

// BestAlignment returns the I/O alignment to use for `path`. Without a
// direct-I/O contract to satisfy there is nothing to query; 4096 keeps block
// geometry identical across platforms.
func BestAlignment(path string) int {
	return 4096
}
