//go:build windows && 386

package memwrapper

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T, size uint32) *Allocator {
	t.Helper()
	a, err := NewAllocator(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Free() })
	return a
}

func TestAllocatorRounding(t *testing.T) {
	a := newTestArena(t, 1)

	assert.Equal(t, uint32(os.Getpagesize()), a.Size())
	assert.False(t, a.Begin().IsNull())
	assert.Zero(t, a.Offset())
}

func TestAllocatorAppend(t *testing.T) {
	a := newTestArena(t, 16)

	assert.True(t, a.Byte(0xCC))
	assert.True(t, a.Bytes([]byte{0x01, 0x02, 0x03}))
	assert.True(t, a.Uint32(0xDEADBEEF))

	assert.Equal(t, uint32(8), a.Offset())
	assert.Equal(t, []byte{0xCC, 0x01, 0x02, 0x03, 0xEF, 0xBE, 0xAD, 0xDE}, view(a.Begin(), 8))
	assert.Equal(t, a.Begin().Front(8), a.Now())
	assert.Equal(t, a.Begin().Front(3), a.At(3))
}

func TestAllocatorBounded(t *testing.T) {
	a := newTestArena(t, 16)

	require.NoError(t, a.SetOffset(a.Size()-1))
	assert.True(t, a.Byte(0x90))
	assert.False(t, a.Byte(0x90))
	assert.False(t, a.Uint32(1))
	assert.Equal(t, a.Size(), a.Offset())
}

func TestAllocatorSetOffset(t *testing.T) {
	a := newTestArena(t, 16)

	assert.NoError(t, a.SetOffset(11))
	assert.Equal(t, uint32(11), a.Offset())
	assert.ErrorIs(t, a.SetOffset(a.Size()), ErrOffsetOutOfRange)
	assert.ErrorIs(t, a.SetOffset(a.Size()+1), ErrOffsetOutOfRange)
}

func TestAllocatorFreeTwice(t *testing.T) {
	a, err := NewAllocator(16)
	require.NoError(t, err)

	assert.NoError(t, a.Free())
	assert.True(t, a.Begin().IsNull())
	assert.NoError(t, a.Free())
}

func TestEncoderPushPop(t *testing.T) {
	a := newTestArena(t, 16)

	assert.True(t, a.Push(Eax))
	assert.True(t, a.Push(Esi))
	assert.True(t, a.Pop(Ecx))
	assert.True(t, a.Pop(Eax))

	assert.Equal(t, []byte{0x50, 0x56, 0x59, 0x58}, view(a.Begin(), 4))
}

func TestEncoderMovRegMem(t *testing.T) {
	cases := []struct {
		name string
		dst  Register
		base Register
		disp int8
		want []byte
	}{
		{"mov eax, [esp+4]", Eax, Esp, 4, []byte{0x8B, 0x44, 0x24, 0x04}},
		{"mov eax, [esp]", Eax, Esp, 0, []byte{0x8B, 0x04, 0x24}},
		{"mov ecx, [ebp]", Ecx, Ebp, 0, []byte{0x8B, 0x4D, 0x00}},
		{"mov edx, [ecx+8]", Edx, Ecx, 8, []byte{0x8B, 0x51, 0x08}},
		{"mov esi, [eax]", Esi, Eax, 0, []byte{0x8B, 0x30}},
		{"mov eax, [ebx-4]", Eax, Ebx, -4, []byte{0x8B, 0x43, 0xFC}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestArena(t, 16)
			assert.True(t, a.MovRegMem(tc.dst, tc.base, tc.disp))
			assert.Equal(t, tc.want, view(a.Begin(), uintptr(len(tc.want))))

			// the decoder agrees on the emitted length
			is := decode(view(a.Begin(), maxInstLen))
			assert.Zero(t, is.flags&flagError)
			assert.Equal(t, len(tc.want), is.len)
		})
	}
}

func TestEncoderMovMemReg(t *testing.T) {
	a := newTestArena(t, 16)

	assert.True(t, a.MovMemReg(Pointer(0xDEADBEEF), Eax))
	assert.Equal(t, []byte{0xA3, 0xEF, 0xBE, 0xAD, 0xDE}, view(a.Begin(), 5))

	assert.True(t, a.MovMemReg(Pointer(0x00401000), Ecx))
	assert.Equal(t, []byte{0x89, 0x0D, 0x00, 0x10, 0x40, 0x00}, view(a.At(5), 6))
}

func TestEncoderJmp(t *testing.T) {
	a := newTestArena(t, 64)

	target := a.At(0x20)
	assert.True(t, a.Jmp(target))

	assert.Equal(t, []byte{0xE9, 0x1B, 0x00, 0x00, 0x00}, view(a.Begin(), 5))

	is := decode(view(a.Begin(), maxInstLen))
	assert.Equal(t, uint32(target.Addr()), restoreAbsolute(is.imm, a.Begin().Addr(), uintptr(is.len)))
}

func TestEncoderJmpBackwards(t *testing.T) {
	a := newTestArena(t, 64)

	require.NoError(t, a.SetOffset(0x20))
	target := a.Begin()
	assert.True(t, a.Jmp(target))

	is := decode(view(a.At(0x20), maxInstLen))
	assert.Zero(t, is.flags&flagError)
	assert.Equal(t, uint32(target.Addr()), restoreAbsolute(is.imm, a.At(0x20).Addr(), uintptr(is.len)))
}
