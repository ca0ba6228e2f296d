//go:build windows && 386

package memwrapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindPatternSelfImage(t *testing.T) {
	// every loaded image starts with the DOS header magic
	base := moduleHandle("")
	require.False(t, base.IsNull())

	at := FindPattern("", []byte{'M', 'Z'}, "xx")
	assert.Equal(t, base, at)
}

func TestFindPatternWildcards(t *testing.T) {
	base := moduleHandle("")
	lfanew := view(base.Front(offLfanew), 1)

	// pin the first header byte, wildcard the second, pin e_lfanew's
	// low byte at its offset
	pattern := make([]byte, offLfanew+1)
	pattern[0] = 'M'
	pattern[offLfanew] = lfanew[0]
	mask := make([]byte, offLfanew+1)
	for i := range mask {
		mask[i] = '?'
	}
	mask[0] = 'x'
	mask[offLfanew] = 'x'

	assert.Equal(t, base, FindPattern("", pattern, string(mask)))
}

func TestFindPatternKernel32(t *testing.T) {
	at := FindPattern("kernel32.dll", []byte{'M', 'Z'}, "xx")
	assert.Equal(t, moduleHandle("kernel32.dll"), at)
}

func TestFindPatternMisses(t *testing.T) {
	assert.True(t, FindPattern("definitely-not-loaded.dll", []byte{0x90}, "x").IsNull())
	assert.True(t, FindPattern("", []byte{0x90}, "").IsNull())
}
