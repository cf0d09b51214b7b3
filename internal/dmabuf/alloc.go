package dmabuf

import (
	"container/list"
	"fmt"
)

// First-fit allocation over the free list, with alignment handled by
// splitting the front of the chosen block. Callers hold r.mu.
func (r *Region) alloc(size, align int) (*block, error) {
	var pad int
	var e *list.Element

	for e = r.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		pad = 0
		if rem := int(b.addr) % align; rem != 0 {
			pad = align - rem
		}
		if b.size >= pad+size {
			break
		}
	}
	if e == nil {
		return nil, fmt.Errorf("out of coherent memory (%d bytes requested)", size)
	}

	b := e.Value.(*block)

	if pad != 0 {
		front := &block{addr: b.addr, size: pad}
		r.freeBlocks.InsertBefore(front, e)
		b.addr += uintptr(pad)
		b.size -= pad
	}

	if b.size == size {
		r.freeBlocks.Remove(e)
		return b, nil
	}

	out := &block{addr: b.addr, size: size}
	b.addr += uintptr(size)
	b.size -= size

	return out, nil
}

// free reinserts a block in address order and merges adjacent blocks.
// Callers hold r.mu.
func (r *Region) free(b *block) {
	var at *list.Element

	for e := r.freeBlocks.Front(); e != nil; e = e.Next() {
		if e.Value.(*block).addr > b.addr {
			at = e
			break
		}
	}

	var e *list.Element
	if at != nil {
		e = r.freeBlocks.InsertBefore(b, at)
	} else {
		e = r.freeBlocks.PushBack(b)
	}

	if prev := e.Prev(); prev != nil {
		p := prev.Value.(*block)
		if p.addr+uintptr(p.size) == b.addr {
			p.size += b.size
			r.freeBlocks.Remove(e)
			e = prev
			b = p
		}
	}
	if next := e.Next(); next != nil {
		n := next.Value.(*block)
		if b.addr+uintptr(b.size) == n.addr {
			b.size += n.size
			r.freeBlocks.Remove(next)
		}
	}
}
