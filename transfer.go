package axidma

import (
	"context"
	"sync"

	"github.com/ehrlich-b/go-axidma/internal/channel"
	"github.com/ehrlich-b/go-axidma/internal/mmio"
)

// Transfer couples an in-flight buffer to its channel. The buffer is
// parked inside the Transfer from submit until a successful Wait or
// Await returns it; until then the device owns the memory and nothing
// exposes it to the host.
//
// Exactly one of Wait or Await consumes the Transfer. A Transfer that
// is never consumed keeps the buffer referenced, so the memory stays
// valid for the device even if the caller walks away; the bytes are
// simply never observable again through this handle.
type Transfer struct {
	ch  *channel.Channel
	buf *Buffer

	mu       sync.Mutex
	done     <-chan struct{}
	consumed bool
}

func newTransfer(ch *channel.Channel, buf *Buffer) *Transfer {
	return &Transfer{ch: ch, buf: buf}
}

// Wait blocks until the channel reports a completion condition, reaps
// the ring and returns the buffer. On an error interrupt the Transfer
// stays unconsumed and the error surfaces as a DMA failure; the host
// decides whether to reset.
func (t *Transfer) Wait() (*Buffer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.consumed {
		return nil, NewChannelError("WAIT", t.ch.Name(), ErrCodeInvalidParameters, "transfer already consumed")
	}

	t.ch.Wait()

	return t.finishLocked("WAIT")
}

// Done returns a channel closed when a completion interrupt is
// dispatched for this channel. Use it to select across transfers; call
// Await to actually consume the Transfer.
func (t *Transfer) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doneLocked()
}

func (t *Transfer) doneLocked() <-chan struct{} {
	if t.done == nil {
		t.done = t.ch.AddWaiter()
	}
	return t.done
}

// Await blocks until the interrupt handler signals completion or ctx
// ends, then reaps and returns the buffer. Interrupts must be enabled
// and dispatched (see Dispatcher) for the wakeup to arrive.
func (t *Transfer) Await(ctx context.Context) (*Buffer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.consumed {
		return nil, NewChannelError("AWAIT", t.ch.Name(), ErrCodeInvalidParameters, "transfer already consumed")
	}

	done := t.doneLocked()

	// The interrupt may already have fired and been acknowledged
	// before the waiter was registered; a pending status condition
	// short-circuits the wait.
	if t.ch.CheckComplete() {
		t.ch.RemoveWaiter(done)
		return t.finishLocked("AWAIT")
	}

	select {
	case <-done:
		t.done = nil
		return t.finishLocked("AWAIT")
	case <-ctx.Done():
		// Unregister so a later interrupt does not spend its wake on
		// a handle nobody is blocked in.
		t.ch.RemoveWaiter(done)
		t.done = nil
		return nil, ctx.Err()
	}
}

// finishLocked acknowledges the interrupt condition, reaps the ring
// and releases the buffer back to the host. Callers hold t.mu.
func (t *Transfer) finishLocked(op string) (*Buffer, error) {
	if _, err := t.ch.Reap(); err != nil {
		return nil, WrapError(op, err)
	}
	if err := t.ch.HandleInterrupt(); err != nil {
		return nil, WrapError(op, err)
	}

	t.consumed = true

	// The device released the descriptors before the reap observed
	// them; keep the buffer loads on this side of that observation.
	mmio.CompilerFence()

	return t.buf, nil
}
