// Package dmabuf manages a physically-addressable, cache-coherent memory
// region shared with the DMA engine. Descriptor rings and data buffers
// are carved out of such a region so their physical addresses stay
// stable for the lifetime of the allocation.
package dmabuf

import (
	"container/list"
	"fmt"
	"sync"
	"unsafe"
)

// Region is a contiguous span of coherent memory with a known physical
// base address and a virtual mapping. Allocation is first-fit; freed
// blocks are merged back into their neighbours.
type Region struct {
	mu sync.Mutex

	phys   uintptr
	mem    []byte
	mapped []byte // non-nil when the region owns a device mapping

	freeBlocks *list.List
	usedBlocks map[uintptr]*block
}

type block struct {
	addr uintptr // physical address
	size int
}

// FromSlice builds a Region over an existing virtual mapping whose
// physical base is phys. The first usable byte is aligned up to align.
func FromSlice(phys uintptr, mem []byte, align int) (*Region, error) {
	if len(mem) == 0 {
		return nil, fmt.Errorf("empty backing slice")
	}
	if align <= 0 {
		align = 4
	}
	skip := 0
	if rem := int(phys) % align; rem != 0 {
		skip = align - rem
	}
	if skip >= len(mem) {
		return nil, fmt.Errorf("backing slice too small after alignment")
	}

	r := &Region{
		phys:       phys + uintptr(skip),
		mem:        mem[skip:],
		freeBlocks: list.New(),
		usedBlocks: make(map[uintptr]*block),
	}
	r.freeBlocks.PushFront(&block{addr: r.phys, size: len(r.mem)})

	return r, nil
}

// Bytes returns the whole virtual mapping. Callers that carve the
// region with Reserve should not also write through this view.
func (r *Region) Bytes() []byte {
	return r.mem
}

// PhysBase returns the physical address of the region's first byte.
func (r *Region) PhysBase() uintptr {
	return r.phys
}

// Size returns the region size in bytes.
func (r *Region) Size() int {
	return len(r.mem)
}

// Reserve allocates size bytes with the requested alignment and returns
// the block's physical address along with the virtual view over it.
// A non-positive align defaults to word (4-byte) alignment; a positive
// align is used as given.
func (r *Region) Reserve(size, align int) (uintptr, []byte, error) {
	if size <= 0 {
		return 0, nil, fmt.Errorf("non-positive reservation size %d", size)
	}
	if align <= 0 {
		align = 4
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.alloc(size, align)
	if err != nil {
		return 0, nil, err
	}
	r.usedBlocks[b.addr] = b

	buf, err := r.slice(b.addr, b.size)
	if err != nil {
		return 0, nil, err
	}
	return b.addr, buf, nil
}

// Release returns a block previously obtained with Reserve.
func (r *Region) Release(addr uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.usedBlocks[addr]
	if !ok {
		return fmt.Errorf("no reserved block at %#x", addr)
	}
	delete(r.usedBlocks, addr)
	r.free(b)

	return nil
}

// Slice returns the virtual view over [addr, addr+size) for an address
// inside the region.
func (r *Region) Slice(addr uintptr, size int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slice(addr, size)
}

// Contains reports whether [addr, addr+size) lies inside the region.
func (r *Region) Contains(addr uintptr, size int) bool {
	return addr >= r.phys && addr+uintptr(size) <= r.phys+uintptr(len(r.mem))
}

// VirtAddr translates a physical address inside the region to the
// address of its mapping.
func (r *Region) VirtAddr(addr uintptr) (uintptr, error) {
	if !r.Contains(addr, 0) {
		return 0, fmt.Errorf("address %#x outside region [%#x, %#x)", addr, r.phys, r.phys+uintptr(len(r.mem)))
	}
	return uintptr(unsafe.Pointer(&r.mem[0])) + (addr - r.phys), nil
}

func (r *Region) slice(addr uintptr, size int) ([]byte, error) {
	if !r.Contains(addr, size) {
		return nil, fmt.Errorf("span [%#x, %#x) outside region", addr, addr+uintptr(size))
	}
	off := int(addr - r.phys)
	return r.mem[off : off+size : off+size], nil
}
