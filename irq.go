package axidma

// Dispatcher is the interrupt entry point for an engine. Host
// interrupt plumbing (a UIO loop, a bare-metal vector, a test) calls
// HandleTX or HandleRX when the matching IRQ line fires; the
// dispatcher acknowledges the condition and wakes any waiter parked on
// that channel.
//
// Handlers touch only channel control state, never the descriptor
// ring, so they are safe to call while another goroutine is mid-submit.
type Dispatcher struct {
	e *Engine
}

// Dispatcher returns the engine's interrupt dispatcher.
func (e *Engine) Dispatcher() *Dispatcher {
	return &Dispatcher{e: e}
}

// HandleTX services the MM2S interrupt line.
func (d *Dispatcher) HandleTX() error {
	if d.e.tx == nil {
		return NewError("TX_INTR", ErrCodeChannelAbsent, "")
	}
	if err := d.e.tx.HandleInterrupt(); err != nil {
		return WrapError("TX_INTR", err)
	}
	return nil
}

// HandleRX services the S2MM interrupt line.
func (d *Dispatcher) HandleRX() error {
	if d.e.rx == nil {
		return NewError("RX_INTR", ErrCodeChannelAbsent, "")
	}
	if err := d.e.rx.HandleInterrupt(); err != nil {
		return WrapError("RX_INTR", err)
	}
	return nil
}
