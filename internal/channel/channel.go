// Package channel implements one half of the DMA engine: a descriptor
// ring bound to an MM2S or S2MM register block.
//
// Two locks protect a channel. The ring lock covers the descriptor
// ring and the descriptor-pointer registers that advertise it to the
// hardware. The control lock covers interrupt state, cyclic mode and
// the waiter queue. Interrupt handlers take only the control lock, so
// an IRQ can be serviced while another goroutine is mid-submit.
package channel

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/ehrlich-b/go-axidma/internal/bd"
	"github.com/ehrlich-b/go-axidma/internal/dmabuf"
	"github.com/ehrlich-b/go-axidma/internal/hw"
	"github.com/ehrlich-b/go-axidma/internal/interfaces"
	"github.com/ehrlich-b/go-axidma/internal/logging"
	"github.com/ehrlich-b/go-axidma/internal/mmio"
)

// ErrInterrupt reports an error IRQ observed by the interrupt handler.
var ErrInterrupt = errors.New("interrupt error")

// Config describes one channel of an engine.
type Config struct {
	// Name tags log lines and metrics, conventionally "mm2s" or "s2mm".
	Name string

	// Regs is the channel's register block (hw.ChannelRegWindow bytes
	// at the channel's base offset).
	Regs *mmio.Region

	// Mem provides coherent memory for the descriptor ring.
	Mem *dmabuf.Region

	// HasDRE indicates the data realign engine; without it buffer
	// addresses and per-descriptor split boundaries must be word
	// aligned.
	HasDRE bool

	// DataWidth is the stream width in bits per beat.
	DataWidth int

	// MaxTransferLen bounds the bytes one descriptor can carry,
	// derived from the engine's length-field width.
	MaxTransferLen int

	Logger   *logging.Logger
	Observer interfaces.Observer
}

// Channel drives one DMA direction through its register block and
// descriptor ring.
type Channel struct {
	name    string
	regs    *mmio.Region
	mem     *dmabuf.Region
	hasDRE  bool
	wordLen int
	maxLen  int
	log     *logging.Logger
	obs     interfaces.Observer

	ringMu sync.Mutex
	ring   *bd.Ring

	ctrlMu      sync.Mutex
	intrEnabled bool
	cyclic      bool
	waiters     []chan struct{}
}

// New binds a channel to its register block. No ring exists until
// CreateRing; submissions fail until then.
func New(cfg Config) (*Channel, error) {
	if cfg.Regs == nil || cfg.Mem == nil {
		return nil, fmt.Errorf("channel %s: registers and memory region are required", cfg.Name)
	}
	if cfg.DataWidth <= 0 || cfg.DataWidth%8 != 0 {
		return nil, fmt.Errorf("channel %s: bad data width %d: %w", cfg.Name, cfg.DataWidth, bd.ErrInvalidParam)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	wordLen := cfg.DataWidth / 8
	maxLen := cfg.MaxTransferLen
	if maxLen <= 0 || maxLen > hw.MaxFieldLen {
		return nil, fmt.Errorf("channel %s: bad max transfer length %d: %w", cfg.Name, maxLen, bd.ErrInvalidParam)
	}
	if !cfg.HasDRE {
		// Multi-descriptor splits must fall on word boundaries when
		// the engine cannot realign.
		maxLen -= maxLen % wordLen
		if maxLen == 0 {
			return nil, fmt.Errorf("channel %s: max transfer length below word size: %w", cfg.Name, bd.ErrInvalidParam)
		}
	}

	return &Channel{
		name:    cfg.Name,
		regs:    cfg.Regs,
		mem:     cfg.Mem,
		hasDRE:  cfg.HasDRE,
		wordLen: wordLen,
		maxLen:  maxLen,
		log:     cfg.Logger,
		obs:     cfg.Observer,
	}, nil
}

// Name returns the channel tag.
func (c *Channel) Name() string {
	return c.name
}

// MaxTransferLen returns the per-descriptor byte bound after word
// truncation.
func (c *Channel) MaxTransferLen() int {
	return c.maxLen
}

// CreateRing builds the channel's descriptor ring with count slots,
// replacing any previous ring.
func (c *Channel) CreateRing(count int) error {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()

	ring, err := bd.Create(c.mem, count, c.maxLen, c.log)
	if err != nil {
		return err
	}
	if c.ring != nil {
		if derr := c.ring.Destroy(); derr != nil {
			c.log.Warn("releasing previous ring failed", "channel", c.name, "err", derr)
		}
	}
	c.ring = ring
	return nil
}

// DescAddr returns the physical address of ring descriptor i, for
// diagnostics and tests; ok is false without a ring or out of range.
func (c *Channel) DescAddr(i int) (uintptr, bool) {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()
	if c.ring == nil || i < 0 || i >= c.ring.Size() {
		return 0, false
	}
	return c.ring.At(i).PhysAddr(), true
}

// RingCounts reports the free, pending and submitted descriptor counts.
func (c *Channel) RingCounts() (free, pending, submitted int, ok bool) {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()
	if c.ring == nil {
		return 0, 0, 0, false
	}
	free, pending, submitted = c.ring.Counts()
	return free, pending, submitted, true
}

// Reset pulses the channel reset bit and marks the ring halted. The
// engine polls ResetDone afterwards; the bit self-clears when the
// hardware finishes.
func (c *Channel) Reset() {
	c.regs.SetBits(hw.RegControl, hw.CRReset)

	c.ringMu.Lock()
	if c.ring != nil {
		c.ring.Halted = true
	}
	c.ringMu.Unlock()
}

// ResetDone reports whether the reset bit has self-cleared.
func (c *Channel) ResetDone() bool {
	return c.regs.Read32(hw.RegControl)&hw.CRReset == 0
}

// Start sets the run bit.
func (c *Channel) Start() {
	c.regs.SetBits(hw.RegControl, hw.CRRunStop)

	c.ringMu.Lock()
	if c.ring != nil {
		c.ring.Halted = false
	}
	c.ringMu.Unlock()
}

// Stop clears the run bit.
func (c *Channel) Stop() {
	c.regs.ClearBits(hw.RegControl, hw.CRRunStop)

	c.ringMu.Lock()
	if c.ring != nil {
		c.ring.Halted = true
	}
	c.ringMu.Unlock()
}

// Running reads the halted status bit back from the hardware.
func (c *Channel) Running() bool {
	return c.regs.Read32(hw.RegStatus)&hw.SRHalted == 0
}

// SetCoalescing programs the interrupt threshold counter. The device
// accumulates that many completions before asserting the complete IRQ.
func (c *Channel) SetCoalescing(threshold int) error {
	if threshold < 1 || threshold > hw.MaxCoalesce {
		return fmt.Errorf("coalescing threshold %d out of range [1, %d]: %w", threshold, hw.MaxCoalesce, bd.ErrInvalidParam)
	}
	c.regs.SetField(hw.RegControl, hw.CRThresholdShift, hw.CRThresholdMask, uint32(threshold))
	return nil
}

// Coalescing reads the programmed interrupt threshold back.
func (c *Channel) Coalescing() int {
	return int(c.regs.Field(hw.RegControl, hw.CRThresholdShift, hw.CRThresholdMask))
}

// SetDelay programs the interrupt delay timer; zero disables it.
func (c *Channel) SetDelay(delay int) error {
	if delay < 0 || delay > hw.MaxDelay {
		return fmt.Errorf("delay %d out of range [0, %d]: %w", delay, hw.MaxDelay, bd.ErrInvalidParam)
	}
	c.regs.SetField(hw.RegControl, hw.CRDelayShift, hw.CRDelayMask, uint32(delay))
	return nil
}

// CyclicEnable makes the engine follow the closed ring indefinitely
// instead of stopping at the tail.
func (c *Channel) CyclicEnable() {
	c.regs.SetBits(hw.RegControl, hw.CRCyclic)
	c.ctrlMu.Lock()
	c.cyclic = true
	c.ctrlMu.Unlock()
}

// CyclicDisable restores tail-bounded operation.
func (c *Channel) CyclicDisable() {
	c.regs.ClearBits(hw.RegControl, hw.CRCyclic)
	c.ctrlMu.Lock()
	c.cyclic = false
	c.ctrlMu.Unlock()
}

// Cyclic reports the mirrored cyclic-mode state.
func (c *Channel) Cyclic() bool {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	return c.cyclic
}

// IntrEnable sets the complete, delay and error interrupt enables in
// one read-modify-write.
func (c *Channel) IntrEnable() {
	c.regs.SetBits(hw.RegControl, hw.CRIrqEnMask)
	c.ctrlMu.Lock()
	c.intrEnabled = true
	c.ctrlMu.Unlock()
}

// IntrDisable clears the three interrupt enables.
func (c *Channel) IntrDisable() {
	c.regs.ClearBits(hw.RegControl, hw.CRIrqEnMask)
	c.ctrlMu.Lock()
	c.intrEnabled = false
	c.ctrlMu.Unlock()
}

// Submit maps the buffer onto descriptors, launches or re-arms the
// engine, and leaves the buffer under hardware ownership.
func (c *Channel) Submit(addr uintptr, length int) error {
	if !c.hasDRE && addr%uintptr(c.wordLen) != 0 {
		return fmt.Errorf("buffer %#x not aligned to %d-byte words: %w", addr, c.wordLen, bd.ErrInvalidParam)
	}

	c.ringMu.Lock()
	defer c.ringMu.Unlock()

	if c.ring == nil {
		return bd.ErrNotCreated
	}

	used, err := c.ring.Submit(addr, length)
	if err != nil {
		return err
	}

	// A halted engine latches the current-descriptor register when the
	// run bit is set; a running one is already walking the chain and
	// only needs the tail doorbell below.
	if c.ring.Halted {
		c.writeDescPtr(hw.RegCurDesc, hw.RegCurDescMSB, c.ring.HeadDescAddr())
	}

	// Descriptor memory must be globally visible before the engine is
	// told to look at it.
	mmio.CompilerFence()
	mmio.MemFence()
	mmio.IOFence()

	c.regs.SetBits(hw.RegControl, hw.CRRunStop)
	c.ring.Halted = false

	if tailAddr, moved := c.ring.Advertise(); moved > 0 {
		c.writeDescPtr(hw.RegTailDesc, hw.RegTailDescMSB, tailAddr)
	}

	if c.obs != nil {
		c.obs.ObserveSubmit(c.name, length, used)
	}
	return nil
}

// Reap pulls completed descriptors off the ring head and returns how
// many were retired. Zero is a valid result.
func (c *Channel) Reap() (int, error) {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()

	if c.ring == nil {
		return 0, bd.ErrNotCreated
	}
	n := c.ring.Reap()
	if n > 0 && c.obs != nil {
		c.obs.ObserveReap(c.name, n)
	}
	return n, nil
}

// Wait spins until the status register reports a complete, delay or
// error interrupt condition. It does not acknowledge; the interrupt
// handler or the Transfer does.
func (c *Channel) Wait() {
	for c.regs.Read32(hw.RegStatus)&hw.SRIrqMask == 0 {
		runtime.Gosched()
	}
}

// CheckComplete reports whether any interrupt condition is pending.
func (c *Channel) CheckComplete() bool {
	return c.regs.Read32(hw.RegStatus)&hw.SRIrqMask != 0
}

// AddWaiter registers a completion waiter; the channel closes it on
// the next complete interrupt. Waiters are woken in FIFO order, one
// per interrupt.
func (c *Channel) AddWaiter() <-chan struct{} {
	ch := make(chan struct{})
	c.ctrlMu.Lock()
	c.waiters = append(c.waiters, ch)
	c.ctrlMu.Unlock()
	return ch
}

// RemoveWaiter drops a waiter that no longer wants its wakeup, so a
// later interrupt cannot spend a wake on it.
func (c *Channel) RemoveWaiter(ch <-chan struct{}) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// HandleInterrupt services the channel's IRQ. An asserted error
// condition is acknowledged and returned as an error, and nothing else
// is acknowledged in that call; otherwise the complete and delay
// conditions that are asserted are acknowledged and the front-most
// waiter is woken on completion. Status bits are write-one-to-clear.
// Only the control lock is taken; reaping stays in caller context.
func (c *Channel) HandleInterrupt() error {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	if !c.intrEnabled {
		return nil
	}

	status := c.regs.Read32(hw.RegStatus)

	if status&hw.SRErrIrq != 0 {
		c.log.Error("error interrupt", "channel", c.name, "status", fmt.Sprintf("%#x", status))
		c.DumpRegs()
		c.regs.Write32(hw.RegStatus, hw.SRErrIrq)
		if c.obs != nil {
			c.obs.ObserveInterrupt(c.name, true)
		}
		return fmt.Errorf("channel %s status %#x: %w", c.name, status, ErrInterrupt)
	}

	if status&hw.SRIOCIrq != 0 {
		c.regs.Write32(hw.RegStatus, hw.SRIOCIrq)
		if len(c.waiters) > 0 {
			close(c.waiters[0])
			c.waiters = c.waiters[1:]
		}
		if c.obs != nil {
			c.obs.ObserveInterrupt(c.name, false)
		}
	}

	if status&hw.SRDlyIrq != 0 {
		c.regs.Write32(hw.RegStatus, hw.SRDlyIrq)
	}

	return nil
}

// DumpRegs logs the channel register block for diagnostics.
func (c *Channel) DumpRegs() {
	c.log.Debugf("%s regs: CR %08x SR %08x CDESC %08x_%08x TDESC %08x_%08x",
		c.name,
		c.regs.Read32(hw.RegControl), c.regs.Read32(hw.RegStatus),
		c.regs.Read32(hw.RegCurDescMSB), c.regs.Read32(hw.RegCurDesc),
		c.regs.Read32(hw.RegTailDescMSB), c.regs.Read32(hw.RegTailDesc))
}

func (c *Channel) writeDescPtr(lo, hi int, addr uintptr) {
	c.regs.Write32(lo, uint32(addr)&^uint32(hw.DescPtrMask))
	c.regs.Write32(hi, uint32(uint64(addr)>>32))
}
