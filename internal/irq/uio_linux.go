//go:build linux

// Package irq connects host interrupt sources to a channel's
// interrupt handler. On Linux the engine's two IRQ lines are commonly
// exposed as UIO devices: reading the device blocks until the next
// interrupt and yields the running event count, writing 1 re-enables
// the line.
package irq

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-axidma/internal/logging"
)

// UIO is one userspace-IRQ line.
type UIO struct {
	fd   int
	path string
}

// OpenUIO opens a /dev/uioN node.
func OpenUIO(path string) (*UIO, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &UIO{fd: fd, path: path}, nil
}

// Fd returns the underlying descriptor for multiplexed waiters.
func (u *UIO) Fd() int {
	return u.fd
}

// Path returns the device node path.
func (u *UIO) Path() string {
	return u.path
}

// Enable unmasks the interrupt line.
func (u *UIO) Enable() error {
	var one [4]byte
	binary.LittleEndian.PutUint32(one[:], 1)
	if _, err := unix.Write(u.fd, one[:]); err != nil {
		return fmt.Errorf("unmask %s: %w", u.path, err)
	}
	return nil
}

// Wait blocks until the line fires and returns the event count.
func (u *UIO) Wait() (uint32, error) {
	var buf [4]byte
	n, err := unix.Read(u.fd, buf[:])
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", u.path, err)
	}
	if n != 4 {
		return 0, fmt.Errorf("short read on %s: %d bytes", u.path, n)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Close releases the line. Closing unblocks a concurrent Wait with an
// error, which Serve treats as shutdown.
func (u *UIO) Close() error {
	return unix.Close(u.fd)
}

// Serve loops enable→wait→handle on one line until ctx ends or the
// line is closed. Handler errors are logged and the loop continues;
// an error interrupt is a condition the submitting side surfaces, not
// a reason to stop dispatching.
func Serve(ctx context.Context, u *UIO, handle func() error, log *logging.Logger) error {
	if log == nil {
		log = logging.Default()
	}

	go func() {
		<-ctx.Done()
		u.Close()
	}()

	for {
		if err := u.Enable(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		count, err := u.Wait()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		log.Debug("irq", "line", u.path, "count", count)
		if err := handle(); err != nil {
			log.Error("interrupt handler failed", "line", u.path, "err", err)
		}
	}
}
