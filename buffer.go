package axidma

import "github.com/ehrlich-b/go-axidma/internal/dmabuf"

// Buffer is a span of coherent memory handed to the engine: the
// physical address the device sees plus the host's view over the same
// bytes. While a Buffer is in flight (between submit and the Transfer
// returning it) the device owns the memory and the host must not touch
// it.
type Buffer struct {
	addr uintptr
	data []byte

	region *dmabuf.Region // non-nil when allocated from an engine
}

// NewBuffer wraps memory the caller already placed in device-visible
// coherent storage. addr is the physical address; data is the mapping.
func NewBuffer(addr uintptr, data []byte) *Buffer {
	return &Buffer{addr: addr, data: data}
}

// Addr returns the buffer's physical address.
func (b *Buffer) Addr() uintptr {
	return b.addr
}

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the host view of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// AllocBuffer reserves a buffer from the engine's coherent region,
// aligned for use without DRE. Free it with FreeBuffer when it is no
// longer submitted anywhere.
func (e *Engine) AllocBuffer(size int) (*Buffer, error) {
	addr, data, err := e.mem.Reserve(size, hwBufferAlign)
	if err != nil {
		return nil, WrapError("ALLOC", err)
	}
	return &Buffer{addr: addr, data: data, region: e.mem}, nil
}

// FreeBuffer returns an engine-allocated buffer to the coherent
// region. Buffers wrapped with NewBuffer are the caller's to manage.
func (e *Engine) FreeBuffer(b *Buffer) error {
	if b.region == nil {
		return nil
	}
	if err := b.region.Release(b.addr); err != nil {
		return WrapError("FREE", err)
	}
	b.region = nil
	b.data = nil
	return nil
}
