// Package bd implements buffer descriptor management for the AXI DMA
// scatter-gather engine: single-descriptor field access and the
// descriptor ring walked by the hardware.
//
// A descriptor describes one DMA transaction. The engine follows the
// next-pointer chain autonomously and stops when the descriptor it just
// completed matches the tail-pointer register. All descriptor memory
// lives in a coherent dmabuf region so its physical addresses are
// stable for the ring's lifetime.
package bd

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-axidma/internal/hw"
	"github.com/ehrlich-b/go-axidma/internal/logging"
	"github.com/ehrlich-b/go-axidma/internal/mmio"
)

var (
	// ErrInvalidParam reports a caller-supplied value failing a
	// precondition.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrNoFreeDescriptors reports a submission needing more
	// descriptors than the free group holds.
	ErrNoFreeDescriptors = errors.New("no free descriptors")

	// ErrNotCreated reports ring operations before Create.
	ErrNotCreated = errors.New("descriptor ring not created")
)

// Descriptor is one 64-byte slot in a ring: a volatile view over the
// slot's mapping plus the physical address the hardware knows it by.
type Descriptor struct {
	regs *mmio.Region
	phys uintptr
}

// PhysAddr returns the address descriptor-pointer registers are
// programmed with.
func (d *Descriptor) PhysAddr() uintptr {
	return d.phys
}

// Clear zeroes the buffer pointer, control word, status word and
// application words. The next pointer is preserved: ring topology is
// immutable after Create. The status word is device-written but a stale
// completed bit from a previous lap would satisfy the next reap scan
// before the hardware touches the reused slot, so it is cleared here.
func (d *Descriptor) Clear() {
	d.regs.Write32(hw.BDBufAddr, 0)
	d.regs.Write32(hw.BDBufAddrMSB, 0)
	d.regs.Write32(hw.BDControl, 0)
	d.regs.Write32(hw.BDStatus, 0)
	for i := 0; i < hw.BDAppWords; i++ {
		d.regs.Write32(hw.BDApp0+4*i, 0)
	}
}

// LinkNext writes the next-descriptor pointer. The target must be
// 64-byte aligned; the low six bits of the register are hardwired zero.
func (d *Descriptor) LinkNext(next uintptr) error {
	if next&hw.DescPtrMask != 0 {
		return fmt.Errorf("next descriptor %#x not %d-byte aligned: %w", next, hw.BDAlignment, ErrInvalidParam)
	}
	d.regs.Write32(hw.BDNextDesc, uint32(next))
	d.regs.Write32(hw.BDNextDescMSB, uint32(uint64(next)>>32))
	return nil
}

// SetBuffer attaches a buffer span to the descriptor. The address must
// be word aligned and the length must fit the 26-bit length field.
//
// For the transmit channel length is the number of bytes to send; for
// the receive channel it is the capacity of the buffer, with the actual
// receive length reported through ActualLength once completed.
func (d *Descriptor) SetBuffer(addr uintptr, length int) error {
	if addr&(hw.BufAlignment-1) != 0 {
		return fmt.Errorf("buffer %#x not %d-byte aligned: %w", addr, hw.BufAlignment, ErrInvalidParam)
	}
	if length <= 0 || length > hw.MaxFieldLen {
		return fmt.Errorf("buffer length %d out of range: %w", length, ErrInvalidParam)
	}
	d.regs.Write32(hw.BDBufAddr, uint32(addr))
	d.regs.Write32(hw.BDBufAddrMSB, uint32(uint64(addr)>>32))
	d.regs.SetField(hw.BDControl, 0, hw.BDControlLenMask, uint32(length))
	return nil
}

// SetSOF marks the descriptor as the start of a packet.
func (d *Descriptor) SetSOF() {
	d.regs.SetBits(hw.BDControl, hw.BDControlSOF)
}

// SetEOF marks the descriptor as the end of a packet.
func (d *Descriptor) SetEOF() {
	d.regs.SetBits(hw.BDControl, hw.BDControlEOF)
}

// IsSOF reads back the start-of-frame control bit.
func (d *Descriptor) IsSOF() bool {
	return d.regs.Read32(hw.BDControl)&hw.BDControlSOF != 0
}

// IsEOF reads back the end-of-frame control bit.
func (d *Descriptor) IsEOF() bool {
	return d.regs.Read32(hw.BDControl)&hw.BDControlEOF != 0
}

// Length returns the programmed transfer length.
func (d *Descriptor) Length() int {
	return int(d.regs.Read32(hw.BDControl) & hw.BDControlLenMask)
}

// BufAddr returns the programmed buffer address.
func (d *Descriptor) BufAddr() uintptr {
	lo := uintptr(d.regs.Read32(hw.BDBufAddr))
	hi := uintptr(d.regs.Read32(hw.BDBufAddrMSB))
	return hi<<32 | lo
}

// Completed reports whether the hardware has finished the descriptor.
func (d *Descriptor) Completed() bool {
	return d.regs.Read32(hw.BDStatus)&hw.BDStatusCmplt != 0
}

// HadError reports whether the device flagged an internal, slave or
// decode error on the descriptor.
func (d *Descriptor) HadError() bool {
	return d.regs.Read32(hw.BDStatus)&hw.BDStatusErrMask != 0
}

// RxEOF reports the device-written end-of-frame marker on a receive
// descriptor.
func (d *Descriptor) RxEOF() bool {
	return d.regs.Read32(hw.BDStatus)&hw.BDStatusRxEOF != 0
}

// ActualLength returns the transfer size the device reported. For
// receive descriptors this can be smaller than the programmed length.
func (d *Descriptor) ActualLength() int {
	return int(d.regs.Read32(hw.BDStatus) & hw.BDStatusLenMask)
}

// Dump logs the descriptor fields at debug level.
func (d *Descriptor) Dump(log *logging.Logger) {
	log.Debugf("bd %#x: NXT %08x_%08x BUF %08x_%08x CTL %08x STS %08x",
		d.phys,
		d.regs.Read32(hw.BDNextDescMSB), d.regs.Read32(hw.BDNextDesc),
		d.regs.Read32(hw.BDBufAddrMSB), d.regs.Read32(hw.BDBufAddr),
		d.regs.Read32(hw.BDControl), d.regs.Read32(hw.BDStatus))
}
