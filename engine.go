package axidma

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/ehrlich-b/go-axidma/internal/channel"
	"github.com/ehrlich-b/go-axidma/internal/dmabuf"
	"github.com/ehrlich-b/go-axidma/internal/hw"
	"github.com/ehrlich-b/go-axidma/internal/logging"
	"github.com/ehrlich-b/go-axidma/internal/mmio"
)

// Options carries optional collaborators for an Engine.
type Options struct {
	// Logger overrides the default logger.
	Logger *logging.Logger
}

// Engine drives one AXI DMA instance: up to two channels sharing a
// reset lifecycle. An Engine is unusable until Reset succeeds.
type Engine struct {
	cfg  Config
	regs *mmio.Region
	mem  *dmabuf.Region

	tx *channel.Channel
	rx *channel.Channel

	initialized atomic.Bool

	log     *logging.Logger
	metrics *Metrics
}

// New builds an Engine whose register map is identity mapped at
// cfg.BaseAddress (bare-metal or /dev/mem-style hosts). mem supplies
// coherent memory for descriptor rings and engine-allocated buffers.
func New(cfg Config, mem *dmabuf.Region, opts *Options) (*Engine, error) {
	window := cfg.TxChannelOffset
	if cfg.RxChannelOffset > window {
		window = cfg.RxChannelOffset
	}
	regs := mmio.NewRegion(cfg.BaseAddress, window+hw.ChannelRegWindow)
	return NewWithRegion(cfg, regs, mem, opts)
}

// NewWithRegion builds an Engine over a register window the caller
// already mapped (a UIO map, or plain memory under test).
func NewWithRegion(cfg Config, regs *mmio.Region, mem *dmabuf.Region, opts *Options) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, NewError("NEW", ErrCodeInvalidParameters, err.Error())
	}
	if regs == nil || mem == nil {
		return nil, NewError("NEW", ErrCodeInvalidParameters, "register window and memory region are required")
	}

	log := logging.Default()
	if opts != nil && opts.Logger != nil {
		log = opts.Logger
	}

	e := &Engine{
		cfg:     cfg,
		regs:    regs,
		mem:     mem,
		log:     log,
		metrics: NewMetrics(),
	}

	if cfg.HasMM2S {
		w, err := regs.Window(cfg.TxChannelOffset, hw.ChannelRegWindow)
		if err != nil {
			return nil, NewError("NEW", ErrCodeInvalidParameters, err.Error())
		}
		e.tx, err = channel.New(channel.Config{
			Name:           ChannelMM2S,
			Regs:           w,
			Mem:            mem,
			HasDRE:         cfg.HasMM2SDRE,
			DataWidth:      cfg.MM2SDataWidth,
			MaxTransferLen: cfg.MaxTransferLen(),
			Logger:         log,
			Observer:       e.metrics,
		})
		if err != nil {
			return nil, WrapError("NEW", err)
		}
	}

	if cfg.HasS2MM {
		w, err := regs.Window(cfg.RxChannelOffset, hw.ChannelRegWindow)
		if err != nil {
			return nil, NewError("NEW", ErrCodeInvalidParameters, err.Error())
		}
		e.rx, err = channel.New(channel.Config{
			Name:           ChannelS2MM,
			Regs:           w,
			Mem:            mem,
			HasDRE:         cfg.HasS2MMDRE,
			DataWidth:      cfg.S2MMDataWidth,
			MaxTransferLen: cfg.MaxTransferLen(),
			Logger:         log,
			Observer:       e.metrics,
		})
		if err != nil {
			return nil, WrapError("NEW", err)
		}
	}

	return e, nil
}

// Config returns the engine's construction-time configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Initialized reports whether Reset has succeeded.
func (e *Engine) Initialized() bool {
	return e.initialized.Load()
}

// Reset resets every present channel and polls until both report the
// reset bit self-cleared, up to ResetTimeout iterations. On success
// the engine is initialized: interrupts disabled, coalescing at one,
// both channels halted. On timeout the engine stays uninitialized.
func (e *Engine) Reset() error {
	if e.tx != nil {
		e.tx.Reset()
	}
	if e.rx != nil {
		e.rx.Reset()
	}

	done := false
	for i := 0; i < hw.ResetTimeout; i++ {
		if e.resetDone() {
			done = true
			break
		}
		runtime.Gosched()
	}
	if !done {
		e.initialized.Store(false)
		e.log.Error("reset did not complete", "polls", hw.ResetTimeout)
		return NewError("RESET", ErrCodeDMAFailure, "reset timed out")
	}

	e.initialized.Store(true)
	e.log.Debug("engine reset complete")
	return nil
}

func (e *Engine) resetDone() bool {
	if e.tx != nil && !e.tx.ResetDone() {
		return false
	}
	if e.rx != nil && !e.rx.ResetDone() {
		return false
	}
	return true
}

// Start sets the run bit on every present channel.
func (e *Engine) Start() error {
	if !e.initialized.Load() {
		return NewError("START", ErrCodeNotInitialized, "")
	}
	if e.tx != nil {
		e.tx.Start()
	}
	if e.rx != nil {
		e.rx.Start()
	}
	return nil
}

// Pause stops both channels; in-flight descriptors stay queued and
// Resume picks them back up.
func (e *Engine) Pause() error {
	if !e.initialized.Load() {
		return NewError("PAUSE", ErrCodeNotInitialized, "")
	}
	if e.tx != nil {
		e.tx.Stop()
	}
	if e.rx != nil {
		e.rx.Stop()
	}
	return nil
}

// Resume restarts paused channels.
func (e *Engine) Resume() error {
	if !e.initialized.Load() {
		return NewError("RESUME", ErrCodeNotInitialized, "")
	}
	return e.Start()
}

// IntrEnable enables the complete, delay and error interrupts on both
// present channels.
func (e *Engine) IntrEnable() {
	if e.tx != nil {
		e.tx.IntrEnable()
	}
	if e.rx != nil {
		e.rx.IntrEnable()
	}
}

// IntrDisable disables interrupts on both present channels.
func (e *Engine) IntrDisable() {
	if e.tx != nil {
		e.tx.IntrDisable()
	}
	if e.rx != nil {
		e.rx.IntrDisable()
	}
}

// CyclicEnable puts both present channels in cyclic descriptor mode.
// One-shot Transfer consumption does not fit cyclic operation; see the
// package documentation.
func (e *Engine) CyclicEnable() {
	if e.tx != nil {
		e.tx.CyclicEnable()
	}
	if e.rx != nil {
		e.rx.CyclicEnable()
	}
}

// CyclicDisable restores tail-bounded operation on both channels.
func (e *Engine) CyclicDisable() {
	if e.tx != nil {
		e.tx.CyclicDisable()
	}
	if e.rx != nil {
		e.rx.CyclicDisable()
	}
}

// TxChannelCreate sizes the transmit descriptor ring. Interrupts on the
// channel are disabled before the ring is rebuilt and stay disabled.
func (e *Engine) TxChannelCreate(count int) error {
	return e.channelCreate("TX_CHANNEL_CREATE", e.tx, count)
}

// RxChannelCreate sizes the receive descriptor ring.
func (e *Engine) RxChannelCreate(count int) error {
	return e.channelCreate("RX_CHANNEL_CREATE", e.rx, count)
}

func (e *Engine) channelCreate(op string, ch *channel.Channel, count int) error {
	if ch == nil {
		return NewError(op, ErrCodeChannelAbsent, "")
	}
	ch.IntrDisable()
	if err := ch.CreateRing(count); err != nil {
		return WrapError(op, err)
	}
	return nil
}

// TxRingCounts reports the transmit ring's free, pending and
// submitted descriptor counts; ok is false before TxChannelCreate.
func (e *Engine) TxRingCounts() (free, pending, submitted int, ok bool) {
	if e.tx == nil {
		return 0, 0, 0, false
	}
	return e.tx.RingCounts()
}

// RxRingCounts reports the receive ring's descriptor counts.
func (e *Engine) RxRingCounts() (free, pending, submitted int, ok bool) {
	if e.rx == nil {
		return 0, 0, 0, false
	}
	return e.rx.RingCounts()
}

// TxDescAddr returns the physical address of transmit ring descriptor
// i, for diagnostics and tests.
func (e *Engine) TxDescAddr(i int) (uintptr, bool) {
	if e.tx == nil {
		return 0, false
	}
	return e.tx.DescAddr(i)
}

// RxDescAddr returns the physical address of receive ring descriptor i.
func (e *Engine) RxDescAddr(i int) (uintptr, bool) {
	if e.rx == nil {
		return 0, false
	}
	return e.rx.DescAddr(i)
}

// TxCoalescing programs the transmit interrupt threshold.
func (e *Engine) TxCoalescing(threshold int) error {
	return e.coalesce("TX_COALESCING", e.tx, threshold)
}

// RxCoalescing programs the receive interrupt threshold.
func (e *Engine) RxCoalescing(threshold int) error {
	return e.coalesce("RX_COALESCING", e.rx, threshold)
}

func (e *Engine) coalesce(op string, ch *channel.Channel, threshold int) error {
	if ch == nil {
		return NewError(op, ErrCodeChannelAbsent, "")
	}
	if err := ch.SetCoalescing(threshold); err != nil {
		return WrapError(op, err)
	}
	return nil
}

// TxSubmit hands a buffer to the transmit channel and returns the
// Transfer that owns it until completion.
func (e *Engine) TxSubmit(buf *Buffer) (*Transfer, error) {
	return e.submit("TX_SUBMIT", e.tx, buf)
}

// RxSubmit posts a receive buffer and returns the Transfer that owns
// it until the device fills it.
func (e *Engine) RxSubmit(buf *Buffer) (*Transfer, error) {
	return e.submit("RX_SUBMIT", e.rx, buf)
}

func (e *Engine) submit(op string, ch *channel.Channel, buf *Buffer) (*Transfer, error) {
	if !e.initialized.Load() {
		return nil, NewError(op, ErrCodeNotInitialized, "")
	}
	if ch == nil {
		return nil, NewError(op, ErrCodeChannelAbsent, "")
	}
	if buf == nil || buf.Len() == 0 {
		return nil, NewError(op, ErrCodeInvalidParameters, "empty buffer")
	}
	end := buf.Addr() + uintptr(buf.Len())
	if end < buf.Addr() {
		return nil, NewError(op, ErrCodeInvalidParameters,
			fmt.Sprintf("buffer %#x+%#x wraps the physical address space", buf.Addr(), buf.Len()))
	}

	if err := ch.Submit(buf.Addr(), buf.Len()); err != nil {
		return nil, WrapError(op, err)
	}

	return newTransfer(ch, buf), nil
}
