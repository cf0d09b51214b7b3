package axidma

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-axidma/internal/hw"
)

// dreConfig enables the realign engine on both channels so the
// per-descriptor bound is exactly (1<<SGLengthWidth)-1 = 0xffff.
func dreConfig() Config {
	cfg := DefaultConfig()
	cfg.HasMM2SDRE = true
	cfg.HasS2MMDRE = true
	return cfg
}

func newReadyEngine(t *testing.T, cfg *Config, ringSize int) *TestEngine {
	t.Helper()
	te, err := NewTestEngine(cfg, 0)
	require.NoError(t, err)
	te.ForceInitialized()
	require.NoError(t, te.TxChannelCreate(ringSize))
	require.NoError(t, te.RxChannelCreate(ringSize))
	return te
}

func TestNewRejectsUnsupportedVariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no scatter gather", func(c *Config) { c.HasSG = false }},
		{"micro dma", func(c *Config) { c.IsMicroDMA = true }},
		{"status control stream", func(c *Config) { c.HasStsCntrlStrm = true }},
		{"no channels", func(c *Config) { c.HasMM2S = false; c.HasS2MM = false }},
		{"bad addr width", func(c *Config) { c.AddrWidth = 48 }},
		{"bad length width", func(c *Config) { c.SGLengthWidth = 30 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewTestEngine(&cfg, 0)
			require.Error(t, err)
			assert.True(t, IsCode(err, ErrCodeInvalidParameters), "got %v", err)
		})
	}
}

func TestResetHandshake(t *testing.T) {
	te, err := NewTestEngine(nil, 0)
	require.NoError(t, err)
	assert.False(t, te.Initialized())

	// Stand in for the hardware's self-clearing reset bit.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				te.CompleteReset()
				runtime.Gosched()
			}
		}
	}()
	defer close(stop)

	require.NoError(t, te.Reset())
	assert.True(t, te.Initialized())
}

func TestResetTimeout(t *testing.T) {
	te, err := NewTestEngine(nil, 0)
	require.NoError(t, err)

	// Nobody clears the reset bits: the poll loop must give up.
	err = te.Reset()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeDMAFailure))
	assert.False(t, te.Initialized())

	_, err = te.TxSubmit(NewBuffer(0x1000, make([]byte, 16)))
	assert.True(t, IsCode(err, ErrCodeNotInitialized))
}

func TestLifecycleRequiresInit(t *testing.T) {
	te, err := NewTestEngine(nil, 0)
	require.NoError(t, err)

	assert.True(t, IsCode(te.Start(), ErrCodeNotInitialized))
	assert.True(t, IsCode(te.Pause(), ErrCodeNotInitialized))
	assert.True(t, IsCode(te.Resume(), ErrCodeNotInitialized))
}

func TestStartPauseResume(t *testing.T) {
	te := newReadyEngine(t, nil, 4)

	require.NoError(t, te.Start())
	assert.NotZero(t, te.TxReg(hw.RegControl)&hw.CRRunStop)
	assert.NotZero(t, te.RxReg(hw.RegControl)&hw.CRRunStop)

	require.NoError(t, te.Pause())
	assert.Zero(t, te.TxReg(hw.RegControl)&hw.CRRunStop)

	require.NoError(t, te.Resume())
	assert.NotZero(t, te.TxReg(hw.RegControl)&hw.CRRunStop)
}

func TestSubmitSingleDescriptor(t *testing.T) {
	te := newReadyEngine(t, nil, 4)

	buf := NewBuffer(0x1000, make([]byte, 0x100))
	_, err := te.TxSubmit(buf)
	require.NoError(t, err)

	bd0, ok := te.TxDescAddr(0)
	require.True(t, ok)
	ctl, err := te.DescWord(bd0, hw.BDControl)
	require.NoError(t, err)
	assert.Equal(t, uint32(hw.BDControlSOF|hw.BDControlEOF|0x100), ctl)

	addr, err := te.DescWord(bd0, hw.BDBufAddr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), addr)

	// Doorbell registers: current latched at the head, tail at the
	// run's last descriptor, run bit set.
	assert.Equal(t, uint32(bd0), te.TxReg(hw.RegCurDesc))
	assert.Equal(t, uint32(bd0), te.TxReg(hw.RegTailDesc))
	assert.NotZero(t, te.TxReg(hw.RegControl)&hw.CRRunStop)

	free, pending, submitted, ok := te.TxRingCounts()
	require.True(t, ok)
	assert.Equal(t, 3, free)
	assert.Zero(t, pending)
	assert.Equal(t, 1, submitted)
}

func TestSubmitSplitsAtMaxTransferLen(t *testing.T) {
	cfg := dreConfig()
	te := newReadyEngine(t, &cfg, 4)

	// 0x20000 bytes at a 0xffff bound: three descriptors of 0xffff,
	// 0xffff and 2 bytes.
	buf := NewBuffer(0x1000, make([]byte, 0x20000))
	_, err := te.TxSubmit(buf)
	require.NoError(t, err)

	wantLens := []uint32{0xffff, 0xffff, 2}
	for i, want := range wantLens {
		addr, ok := te.TxDescAddr(i)
		require.True(t, ok)
		ctl, err := te.DescWord(addr, hw.BDControl)
		require.NoError(t, err)
		assert.Equal(t, want, ctl&hw.BDControlLenMask, "descriptor %d length", i)
		assert.Equal(t, i == 0, ctl&hw.BDControlSOF != 0, "descriptor %d SOF", i)
		assert.Equal(t, i == len(wantLens)-1, ctl&hw.BDControlEOF != 0, "descriptor %d EOF", i)
	}

	tail, _ := te.TxDescAddr(2)
	assert.Equal(t, uint32(tail), te.TxReg(hw.RegTailDesc))

	free, _, submitted, _ := te.TxRingCounts()
	assert.Equal(t, 1, free)
	assert.Equal(t, 3, submitted)
}

func TestSubmitReapRoundTrip(t *testing.T) {
	te := newReadyEngine(t, nil, 2)

	payload := make([]byte, 1)
	buf := NewBuffer(0x1000, payload)
	xfer, err := te.TxSubmit(buf)
	require.NoError(t, err)

	bd0, _ := te.TxDescAddr(0)
	require.NoError(t, te.CompleteDesc(bd0, false, 1))
	te.RaiseTxStatus(hw.SRIOCIrq)

	got, err := xfer.Wait()
	require.NoError(t, err)
	assert.Same(t, buf, got)
	assert.Equal(t, uintptr(0x1000), got.Addr())
	assert.Equal(t, 1, got.Len())

	free, _, submitted, _ := te.TxRingCounts()
	assert.Equal(t, 2, free)
	assert.Zero(t, submitted)
}

func TestReapLeavesUnfinishedSubmission(t *testing.T) {
	cfg := dreConfig()
	te := newReadyEngine(t, &cfg, 4)

	a := NewBuffer(0x1000, make([]byte, 0xffff))
	b := NewBuffer(0x20000, make([]byte, 0xffff))

	xferA, err := te.TxSubmit(a)
	require.NoError(t, err)
	_, err = te.TxSubmit(b)
	require.NoError(t, err)

	// Only A's descriptor completes.
	bd0, _ := te.TxDescAddr(0)
	require.NoError(t, te.CompleteDesc(bd0, false, 0xffff))
	te.RaiseTxStatus(hw.SRIOCIrq)

	got, err := xferA.Wait()
	require.NoError(t, err)
	assert.Same(t, a, got)

	free, _, submitted, _ := te.TxRingCounts()
	assert.Equal(t, 3, free)
	assert.Equal(t, 1, submitted, "B stays under hardware ownership")
}

func TestSubmitValidation(t *testing.T) {
	te := newReadyEngine(t, nil, 4)

	_, err := te.TxSubmit(nil)
	assert.True(t, IsCode(err, ErrCodeInvalidParameters))

	_, err = te.TxSubmit(NewBuffer(0x1000, nil))
	assert.True(t, IsCode(err, ErrCodeInvalidParameters))

	// A span wrapping the end of the physical address space is
	// rejected before any descriptor is touched.
	_, err = te.TxSubmit(NewBuffer(^uintptr(0)-8, make([]byte, 64)))
	assert.True(t, IsCode(err, ErrCodeInvalidParameters))

	free, pending, submitted, _ := te.TxRingCounts()
	assert.Equal(t, 4, free)
	assert.Zero(t, pending)
	assert.Zero(t, submitted)
}

func TestSubmitNoFreeDescriptors(t *testing.T) {
	cfg := dreConfig()
	te := newReadyEngine(t, &cfg, 2)

	_, err := te.TxSubmit(NewBuffer(0x1000, make([]byte, 3*0xffff)))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeNoFreeDescriptors))

	free, _, _, _ := te.TxRingCounts()
	assert.Equal(t, 2, free)
}

func TestChannelAbsent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HasS2MM = false
	te, err := NewTestEngine(&cfg, 0)
	require.NoError(t, err)
	te.ForceInitialized()

	assert.True(t, IsCode(te.RxChannelCreate(4), ErrCodeChannelAbsent))

	_, err = te.RxSubmit(NewBuffer(0x1000, make([]byte, 16)))
	assert.True(t, IsCode(err, ErrCodeChannelAbsent))

	assert.True(t, IsCode(te.Dispatcher().HandleRX(), ErrCodeChannelAbsent))
}

func TestChannelCreateValidation(t *testing.T) {
	te, err := NewTestEngine(nil, 0)
	require.NoError(t, err)

	err = te.TxChannelCreate(0)
	assert.True(t, IsCode(err, ErrCodeInvalidParameters))
}

func TestCoalescingBoundsAtEngine(t *testing.T) {
	te := newReadyEngine(t, nil, 4)

	assert.True(t, IsCode(te.TxCoalescing(0), ErrCodeInvalidParameters))
	assert.True(t, IsCode(te.TxCoalescing(256), ErrCodeInvalidParameters))
	require.NoError(t, te.TxCoalescing(255))
	assert.Equal(t, uint32(255), (te.TxReg(hw.RegControl)>>hw.CRThresholdShift)&hw.CRThresholdMask)
}

func TestIntrFanOut(t *testing.T) {
	te := newReadyEngine(t, nil, 4)

	te.IntrEnable()
	assert.Equal(t, uint32(hw.CRIrqEnMask), te.TxReg(hw.RegControl)&hw.CRIrqEnMask)
	assert.Equal(t, uint32(hw.CRIrqEnMask), te.RxReg(hw.RegControl)&hw.CRIrqEnMask)

	te.IntrDisable()
	assert.Zero(t, te.TxReg(hw.RegControl)&hw.CRIrqEnMask)
	assert.Zero(t, te.RxReg(hw.RegControl)&hw.CRIrqEnMask)
}

func TestCyclicFanOut(t *testing.T) {
	te := newReadyEngine(t, nil, 4)

	te.CyclicEnable()
	assert.NotZero(t, te.TxReg(hw.RegControl)&hw.CRCyclic)
	assert.NotZero(t, te.RxReg(hw.RegControl)&hw.CRCyclic)

	te.CyclicDisable()
	assert.Zero(t, te.TxReg(hw.RegControl)&hw.CRCyclic)
	assert.Zero(t, te.RxReg(hw.RegControl)&hw.CRCyclic)
}

func TestDispatcherError(t *testing.T) {
	te := newReadyEngine(t, nil, 4)
	te.IntrEnable()

	te.RaiseTxStatus(hw.SRErrIrq)
	err := te.Dispatcher().HandleTX()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeDMAFailure))
}

func TestAllocBuffer(t *testing.T) {
	te := newReadyEngine(t, nil, 4)

	buf, err := te.AllocBuffer(256)
	require.NoError(t, err)
	assert.Zero(t, buf.Addr()%64)
	assert.Equal(t, 256, buf.Len())

	require.NoError(t, te.FreeBuffer(buf))
	// Wrapped buffers are not region-managed; freeing is a no-op.
	assert.NoError(t, te.FreeBuffer(NewBuffer(0x1000, make([]byte, 4))))
}
