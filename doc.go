// Package axidma drives the AXI DMA engine in scatter-gather mode: two
// independent streaming channels, memory-to-stream (MM2S, transmit)
// and stream-to-memory (S2MM, receive), each walking a closed ring of
// buffer descriptors in coherent memory.
//
// # Driver model
//
// A transaction is described by a buffer descriptor (BD): buffer
// address, length, and SOF/EOF markers delimiting a packet that may
// span several descriptors. The hardware follows the BD next-pointer
// chain autonomously and stops once the descriptor it just completed
// matches the tail-pointer register, so the host can keep appending
// work while the engine runs.
//
// Within a ring the driver tracks descriptors in groups: free,
// pending (filled but not yet advertised), submitted (owned by
// hardware) and, transiently during a reap, retired. Submissions
// reserve a contiguous run starting at the restart cursor; completions
// retire contiguous runs from the head cursor, holding back
// descriptors past the last EOF because their packet has not fully
// landed.
//
// # Lifecycle
//
//	cfg := axidma.DefaultConfig()
//	eng, err := axidma.New(cfg, mem, nil)
//	...
//	err = eng.Reset()                // mandatory; engine halted after
//	err = eng.TxChannelCreate(16)    // size the descriptor rings
//	err = eng.RxChannelCreate(16)
//
//	xfer, err := eng.TxSubmit(buf)   // starts the channel if halted
//	buf, err = xfer.Wait()           // buffer is device-owned until here
//
// Each channel is halted initially, after Stop/Pause and after Reset;
// Submit or Start moves it to running. There is no terminal state —
// Reset always returns the engine to halted, discarding in-flight
// work. Transfers outstanding across a Reset never complete; releasing
// their buffers is the resetting host's responsibility.
//
// # Buffer ownership
//
// TxSubmit and RxSubmit park the buffer inside the returned Transfer.
// Until Wait or Await returns it, the device owns the memory: the host
// must not free, move or read it, and the Transfer exposes no way to.
// An abandoned Transfer keeps the buffer referenced so the memory
// outlives whatever the device is still doing with it.
//
// # Interrupts
//
// Completion can be polled (Transfer.Wait spins on the status
// register) or interrupt-driven: enable with IntrEnable, route the two
// IRQ lines to Dispatcher.HandleTX/HandleRX, and consume transfers
// with Await. Interrupt handlers only acknowledge conditions and wake
// waiters; descriptor reaping always happens in the consumer's
// context, so an IRQ can land mid-submit without contending for the
// ring.
//
// In cyclic mode the engine ignores the tail bound and loops the ring
// forever; the completion interrupt fires on each lap's EOF. One-shot
// Transfer consumption does not fit that pattern — cyclic consumers
// should drive the channel interfaces directly on top of this package.
package axidma
