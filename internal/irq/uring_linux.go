//go:build linux && giouring

package irq

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	"github.com/ehrlich-b/go-axidma/internal/logging"
)

// User-data tags for in-flight reads.
const (
	udTX uint64 = 1
	udRX uint64 = 2
)

// URingWaiter multiplexes both channel IRQ lines through one io_uring:
// a 4-byte read of each UIO counter stays armed, and each completion
// dispatches the matching handler before re-arming.
type URingWaiter struct {
	ring *giouring.Ring
	tx   *UIO
	rx   *UIO

	txCount uint32
	rxCount uint32

	log *logging.Logger
}

// NewURingWaiter builds a waiter over the two lines; either may be nil
// when the engine lacks that channel.
func NewURingWaiter(tx, rx *UIO, log *logging.Logger) (*URingWaiter, error) {
	if tx == nil && rx == nil {
		return nil, fmt.Errorf("irq: no lines to wait on")
	}
	if log == nil {
		log = logging.Default()
	}

	ring, err := giouring.CreateRing(8)
	if err != nil {
		return nil, fmt.Errorf("irq: creating io_uring: %w", err)
	}

	return &URingWaiter{ring: ring, tx: tx, rx: rx, log: log}, nil
}

func (w *URingWaiter) arm(u *UIO, ud uint64, count *uint32) error {
	if err := u.Enable(); err != nil {
		return err
	}
	sqe := w.ring.GetSQE()
	if sqe == nil {
		return fmt.Errorf("irq: submission queue full")
	}
	sqe.PrepareRead(u.Fd(), uintptr(unsafe.Pointer(count)), 4, 0)
	sqe.UserData = ud
	return nil
}

// Serve runs the dispatch loop until ctx ends. Handler errors are
// logged; the loop keeps dispatching.
func (w *URingWaiter) Serve(ctx context.Context, onTX, onRX func() error) error {
	defer w.ring.QueueExit()

	if w.tx != nil {
		if err := w.arm(w.tx, udTX, &w.txCount); err != nil {
			return err
		}
	}
	if w.rx != nil {
		if err := w.arm(w.rx, udRX, &w.rxCount); err != nil {
			return err
		}
	}

	// Closing the fds unblocks the pending reads with an error CQE.
	go func() {
		<-ctx.Done()
		if w.tx != nil {
			w.tx.Close()
		}
		if w.rx != nil {
			w.rx.Close()
		}
	}()

	cqes := make([]*giouring.CompletionQueueEvent, 8)
	for {
		if _, err := w.ring.SubmitAndWait(1); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("irq: submit and wait: %w", err)
		}

		n := w.ring.PeekBatchCQE(cqes)
		for i := uint32(0); i < n; i++ {
			cqe := cqes[i]
			if cqe.Res < 0 {
				if ctx.Err() != nil {
					w.ring.CQAdvance(n)
					return ctx.Err()
				}
				w.ring.CQAdvance(n)
				return fmt.Errorf("irq: uio read failed: errno %d", -cqe.Res)
			}

			switch cqe.UserData {
			case udTX:
				w.log.Debug("irq", "line", w.tx.Path(), "count", w.txCount)
				if err := onTX(); err != nil {
					w.log.Error("tx interrupt handler failed", "err", err)
				}
				if err := w.arm(w.tx, udTX, &w.txCount); err != nil {
					w.ring.CQAdvance(n)
					return err
				}
			case udRX:
				w.log.Debug("irq", "line", w.rx.Path(), "count", w.rxCount)
				if err := onRX(); err != nil {
					w.log.Error("rx interrupt handler failed", "err", err)
				}
				if err := w.arm(w.rx, udRX, &w.rxCount); err != nil {
					w.ring.CQAdvance(n)
					return err
				}
			}
		}
		w.ring.CQAdvance(n)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
