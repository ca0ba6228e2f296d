//go:build windows && 386

package memwrapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/windows"
)

func patchBuffer(t *testing.T, init []byte) Pointer {
	t.Helper()
	at := allocPages(t, 4096, windows.PAGE_READWRITE)
	copy(view(at, uintptr(len(init))), init)
	return at
}

func TestPatchRoundTrip(t *testing.T) {
	at := patchBuffer(t, []byte{1, 2, 3, 4})

	unit := NewPatchUnit(at, []byte{9, 8, 7, 6})
	assert.True(t, unit.Install())
	assert.Equal(t, []byte{9, 8, 7, 6}, view(at, 4))

	assert.True(t, unit.Restore())
	assert.Equal(t, []byte{1, 2, 3, 4}, view(at, 4))
}

func TestPatchSuppliedBackup(t *testing.T) {
	at := patchBuffer(t, []byte{1, 2})

	unit := NewPatchUnitBackup(at, []byte{0xFF, 0xFE}, []byte{1, 2})
	unit.Install()
	assert.Equal(t, []byte{0xFF, 0xFE}, view(at, 2))
	unit.Restore()
	assert.Equal(t, []byte{1, 2}, view(at, 2))
}

func TestPatchBackupLengthMismatch(t *testing.T) {
	at := patchBuffer(t, []byte{1, 2})

	assert.Panics(t, func() {
		NewPatchUnitBackup(at, []byte{1, 2, 3}, []byte{1})
	})
}

func TestValuePatch(t *testing.T) {
	at := patchBuffer(t, []byte{0, 0, 0, 0})

	unit := NewValuePatch(at, uint32(0xDEADBEEF))
	unit.Install()
	assert.Equal(t, uint32(0xDEADBEEF), Read[uint32](at))
	unit.Restore()
	assert.Equal(t, uint32(0), Read[uint32](at))
}

func TestFillPatch(t *testing.T) {
	at := patchBuffer(t, []byte{1, 2, 3, 4, 5})

	unit := NewFillPatch(at, 0x90, 5)
	unit.Install()
	assert.Equal(t, []byte{0x90, 0x90, 0x90, 0x90, 0x90}, view(at, 5))
	unit.Restore()
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, view(at, 5))
}

func TestNestedOverlappingPatches(t *testing.T) {
	at := patchBuffer(t, []byte{1, 2, 3, 4})

	a := NewPatchUnit(at, []byte{9, 9, 9, 9})
	a.Install()

	// b captures its backup after a is in place
	b := NewPatchUnit(at, []byte{7, 7, 7, 7})
	b.Install()
	assert.Equal(t, []byte{7, 7, 7, 7}, view(at, 4))

	b.Restore()
	assert.Equal(t, []byte{9, 9, 9, 9}, view(at, 4))
	a.Restore()
	assert.Equal(t, []byte{1, 2, 3, 4}, view(at, 4))
}

func TestPatchGroup(t *testing.T) {
	at := patchBuffer(t, []byte{1, 2, 3, 4})

	var patch Patch
	patch.Add(NewPatchUnit(at, []byte{0xAA}))
	patch.Add(NewPatchUnit(at.Front(2), []byte{0xBB, 0xCC}))

	patch.Install()
	assert.Equal(t, []byte{0xAA, 2, 0xBB, 0xCC}, view(at, 4))

	patch.Toggle(false)
	assert.Equal(t, []byte{1, 2, 3, 4}, view(at, 4))

	patch.Toggle(true)
	assert.Equal(t, []byte{0xAA, 2, 0xBB, 0xCC}, view(at, 4))

	require.NoError(t, patch.Close())
	assert.Equal(t, []byte{1, 2, 3, 4}, view(at, 4))
}

func TestModulePatchUnitMissingModule(t *testing.T) {
	_, err := NewModulePatchUnit("definitely-not-loaded.dll", 0x10, []byte{0x90})
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestEmptyPatchUnit(t *testing.T) {
	at := patchBuffer(t, []byte{1})

	unit := NewPatchUnit(at, nil)
	assert.True(t, unit.Install())
	assert.True(t, unit.Restore())
	assert.Equal(t, byte(1), Read[byte](at))
}
