package axidma

import "sync/atomic"

// Metrics tracks per-direction operational statistics for an engine.
// All counters are atomic; the struct is written from the submit and
// reap paths and from interrupt context.
type Metrics struct {
	// Submission counters
	TxSubmits     atomic.Uint64 // transmit submissions accepted
	RxSubmits     atomic.Uint64 // receive submissions accepted
	TxBytes       atomic.Uint64 // bytes handed to the transmit channel
	RxBytes       atomic.Uint64 // buffer capacity posted for receive
	TxDescriptors atomic.Uint64 // descriptors consumed by transmit submits
	RxDescriptors atomic.Uint64 // descriptors consumed by receive submits

	// Completion counters
	TxReaped atomic.Uint64 // transmit descriptors retired
	RxReaped atomic.Uint64 // receive descriptors retired

	// Interrupt counters
	TxInterrupts atomic.Uint64 // MM2S completion interrupts acknowledged
	RxInterrupts atomic.Uint64 // S2MM completion interrupts acknowledged
	TxErrors     atomic.Uint64 // MM2S error interrupts
	RxErrors     atomic.Uint64 // S2MM error interrupts
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveSubmit implements the internal observer interface.
func (m *Metrics) ObserveSubmit(channel string, bytes int, descriptors int) {
	if channel == ChannelMM2S {
		m.TxSubmits.Add(1)
		m.TxBytes.Add(uint64(bytes))
		m.TxDescriptors.Add(uint64(descriptors))
	} else {
		m.RxSubmits.Add(1)
		m.RxBytes.Add(uint64(bytes))
		m.RxDescriptors.Add(uint64(descriptors))
	}
}

// ObserveReap implements the internal observer interface.
func (m *Metrics) ObserveReap(channel string, descriptors int) {
	if channel == ChannelMM2S {
		m.TxReaped.Add(uint64(descriptors))
	} else {
		m.RxReaped.Add(uint64(descriptors))
	}
}

// ObserveInterrupt implements the internal observer interface.
func (m *Metrics) ObserveInterrupt(channel string, errored bool) {
	switch {
	case channel == ChannelMM2S && errored:
		m.TxErrors.Add(1)
	case channel == ChannelMM2S:
		m.TxInterrupts.Add(1)
	case errored:
		m.RxErrors.Add(1)
	default:
		m.RxInterrupts.Add(1)
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TxSubmits, RxSubmits         uint64
	TxBytes, RxBytes             uint64
	TxDescriptors, RxDescriptors uint64
	TxReaped, RxReaped           uint64
	TxInterrupts, RxInterrupts   uint64
	TxErrors, RxErrors           uint64
}

// GetSnapshot returns a consistent-enough copy for reporting.
func (m *Metrics) GetSnapshot() Snapshot {
	return Snapshot{
		TxSubmits:     m.TxSubmits.Load(),
		RxSubmits:     m.RxSubmits.Load(),
		TxBytes:       m.TxBytes.Load(),
		RxBytes:       m.RxBytes.Load(),
		TxDescriptors: m.TxDescriptors.Load(),
		RxDescriptors: m.RxDescriptors.Load(),
		TxReaped:      m.TxReaped.Load(),
		RxReaped:      m.RxReaped.Load(),
		TxInterrupts:  m.TxInterrupts.Load(),
		RxInterrupts:  m.RxInterrupts.Load(),
		TxErrors:      m.TxErrors.Load(),
		RxErrors:      m.RxErrors.Load(),
	}
}
