package axidma

import (
	"encoding/binary"

	"github.com/ehrlich-b/go-axidma/internal/dmabuf"
	"github.com/ehrlich-b/go-axidma/internal/hw"
	"github.com/ehrlich-b/go-axidma/internal/mmio"
)

// TestEngine is an Engine whose register map and coherent memory are
// plain byte slices, for tests that play the hardware's role: read the
// registers the driver wrote, flip descriptor status bits, raise
// interrupt conditions. No device is involved.
type TestEngine struct {
	*Engine

	// Regs is the raw register window; channel blocks sit at the
	// configured offsets.
	Regs []byte

	// MemPhys is the fake physical base of the coherent region. The
	// first ring created lands at MemPhys (the region hands out
	// blocks first-fit from the bottom).
	MemPhys uintptr

	regio *mmio.Region
	mem   *dmabuf.Region
}

// testMemPhys is 64-byte aligned so ring reservations start at the
// region base, making descriptor addresses predictable in tests.
const testMemPhys = 0x4000_0000

// NewTestEngine builds an engine over cfg (nil for DefaultConfig) with
// memSize bytes of fake coherent memory.
func NewTestEngine(cfg *Config, memSize int) (*TestEngine, error) {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if memSize <= 0 {
		memSize = 1 << 16
	}

	window := c.TxChannelOffset
	if c.RxChannelOffset > window {
		window = c.RxChannelOffset
	}
	regs := make([]byte, window+hw.ChannelRegWindow)
	regio := mmio.FromSlice(regs)

	mem, err := dmabuf.FromSlice(testMemPhys, make([]byte, memSize), hw.BDAlignment)
	if err != nil {
		return nil, err
	}

	e, err := NewWithRegion(c, regio, mem, nil)
	if err != nil {
		return nil, err
	}

	return &TestEngine{
		Engine:  e,
		Regs:    regs,
		MemPhys: mem.PhysBase(),
		regio:   regio,
		mem:     mem,
	}, nil
}

// CompleteReset clears the reset bits a Reset call set, standing in
// for the hardware's self-clearing behaviour. Safe to run concurrently
// with Engine.Reset.
func (te *TestEngine) CompleteReset() {
	for _, off := range te.channelOffsets() {
		te.regio.ClearBits(off+hw.RegControl, hw.CRReset)
	}
}

// ForceInitialized marks the engine initialized without a reset
// handshake, for tests that start at the submit path.
func (te *TestEngine) ForceInitialized() {
	te.initialized.Store(true)
}

// TxReg and RxReg read one register of a channel block.
func (te *TestEngine) TxReg(off int) uint32 {
	return te.regio.Read32(te.cfg.TxChannelOffset + off)
}

func (te *TestEngine) RxReg(off int) uint32 {
	return te.regio.Read32(te.cfg.RxChannelOffset + off)
}

// RaiseTxStatus and RaiseRxStatus assert status-register bits, the way
// the device raises completion or error conditions.
func (te *TestEngine) RaiseTxStatus(bits uint32) {
	te.regio.SetBits(te.cfg.TxChannelOffset+hw.RegStatus, bits)
}

func (te *TestEngine) RaiseRxStatus(bits uint32) {
	te.regio.SetBits(te.cfg.RxChannelOffset+hw.RegStatus, bits)
}

// DescWord reads a 32-bit descriptor field at a fake physical address.
func (te *TestEngine) DescWord(phys uintptr, field int) (uint32, error) {
	buf, err := te.mem.Slice(phys+uintptr(field), 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// SetDescWord writes a 32-bit descriptor field at a fake physical
// address, playing the device's part.
func (te *TestEngine) SetDescWord(phys uintptr, field int, val uint32) error {
	buf, err := te.mem.Slice(phys+uintptr(field), 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf, val)
	return nil
}

// CompleteDesc marks the descriptor at phys completed, optionally with
// the device-written EOF marker, as the hardware does when it retires
// a descriptor.
func (te *TestEngine) CompleteDesc(phys uintptr, rxEOF bool, transferred int) error {
	status := uint32(hw.BDStatusCmplt) | uint32(transferred&hw.BDStatusLenMask)
	if rxEOF {
		status |= hw.BDStatusRxEOF
	}
	return te.SetDescWord(phys, hw.BDStatus, status)
}

func (te *TestEngine) channelOffsets() []int {
	var offs []int
	if te.cfg.HasMM2S {
		offs = append(offs, te.cfg.TxChannelOffset)
	}
	if te.cfg.HasS2MM {
		offs = append(offs, te.cfg.RxChannelOffset)
	}
	return offs
}
