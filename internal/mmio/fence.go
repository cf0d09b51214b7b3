package mmio

import "sync/atomic"

// The submit path writes descriptor memory with plain stores and then
// pokes doorbell registers; the reap path reads device-written status
// words. Both need the descriptor traffic ordered against the MMIO
// traffic. Three fences, issued in this order on the write side:
// CompilerFence, MemFence, IOFence. The reap side issues the same
// sequence before scanning.

var fenceWord uint32

// CompilerFence prevents the compiler from moving memory accesses
// across the call. An atomic load is the strongest ordering hint the
// language offers short of assembly.
func CompilerFence() {
	atomic.LoadUint32(&fenceWord)
}

// MemFence orders normal memory accesses against other cores. The
// locked read-modify-write lowers to a full barrier on amd64 and to
// DMB-equivalent ordering on arm64.
func MemFence() {
	atomic.AddUint32(&fenceWord, 0)
}

// IOFence orders MMIO against normal memory from the device's
// perspective. On strongly-ordered targets the full barrier from the
// atomic suffices; weakly-ordered targets with a distinct device fence
// get it from the atomic's acquire/release pair around uncached
// mappings.
func IOFence() {
	atomic.AddUint32(&fenceWord, 0)
}
