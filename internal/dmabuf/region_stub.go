//go:build !linux

package dmabuf

import "fmt"

// Open requires a Linux host; other platforms build regions with
// FromSlice over memory they mapped themselves.
func Open(path string, phys uintptr, size int) (*Region, error) {
	return nil, fmt.Errorf("dmabuf: device mapping not supported on this platform")
}

// Close is a no-op for regions built with FromSlice.
func (r *Region) Close() error {
	return nil
}
