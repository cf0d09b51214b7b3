//go:build linux

package dmabuf

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Open maps size bytes of the character device at path (a u-dma-buf or
// /dev/mem style node) and builds a Region over the mapping. phys is the
// physical base of the exported area, as published by the providing
// driver (e.g. /sys/class/u-dma-buf/<name>/phys_addr).
func Open(path string, phys uintptr, size int) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, os.NewSyscallError("open", err))
	}
	defer unix.Close(fd)

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, os.NewSyscallError("mmap", err))
	}

	r, err := FromSlice(phys, mem, 4)
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	r.mapped = mem

	return r, nil
}

// Close unmaps a region created with Open. Regions built with FromSlice
// are unaffected.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mapped == nil {
		return nil
	}
	mem := r.mapped
	r.mapped = nil
	r.mem = nil
	r.freeBlocks = nil
	r.usedBlocks = nil

	return unix.Munmap(mem)
}
