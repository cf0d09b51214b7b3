package mmio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWrite(t *testing.T) {
	buf := make([]byte, 32)
	r := FromSlice(buf)

	r.Write32(4, 0xdeadbeef)
	assert.Equal(t, uint32(0xdeadbeef), r.Read32(4))
	assert.Equal(t, uint32(0xdeadbeef), binary.LittleEndian.Uint32(buf[4:8]))

	// Neighbouring words untouched.
	assert.Equal(t, uint32(0), r.Read32(0))
	assert.Equal(t, uint32(0), r.Read32(8))
}

func TestSetClearBits(t *testing.T) {
	r := FromSlice(make([]byte, 16))

	r.SetBits(0, 1<<0)
	r.SetBits(0, 1<<14)
	assert.Equal(t, uint32(1<<0|1<<14), r.Read32(0))

	r.ClearBits(0, 1<<0)
	assert.Equal(t, uint32(1<<14), r.Read32(0))
}

func TestFields(t *testing.T) {
	r := FromSlice(make([]byte, 16))

	r.Write32(0, 0xffffffff)
	r.SetField(0, 16, 0xff, 0x12)
	assert.Equal(t, uint32(0x12), r.Field(0, 16, 0xff))

	// Bits outside the field survive the read-modify-write.
	assert.Equal(t, uint32(0xff12ffff), r.Read32(0))

	// Values wider than the mask are truncated.
	r.SetField(0, 16, 0xff, 0x1ff)
	assert.Equal(t, uint32(0xff), r.Field(0, 16, 0xff))
}

func TestWindow(t *testing.T) {
	buf := make([]byte, 64)
	r := FromSlice(buf)

	w, err := r.Window(16, 16)
	require.NoError(t, err)

	w.Write32(0, 0x11223344)
	assert.Equal(t, uint32(0x11223344), r.Read32(16))

	_, err = r.Window(56, 16)
	assert.Error(t, err)
	_, err = r.Window(-4, 8)
	assert.Error(t, err)
}

func TestBadOffsetPanics(t *testing.T) {
	r := FromSlice(make([]byte, 8))

	assert.Panics(t, func() { r.Read32(6) })  // unaligned
	assert.Panics(t, func() { r.Read32(8) })  // past the end
	assert.Panics(t, func() { r.Write32(-4, 0) })
}
