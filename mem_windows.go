// This file is part of Memwrapper project, available at https://github.com/The-Musaigen/memwrapper
// Copyright (c) 2024 The Musaigen. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at https://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build windows && 386

package memwrapper

import (
	"bytes"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Protection is a Windows page protection constant.
type Protection uint32

const (
	NoAccess         Protection = windows.PAGE_NOACCESS
	ReadOnly         Protection = windows.PAGE_READONLY
	ReadWrite        Protection = windows.PAGE_READWRITE
	WriteCopy        Protection = windows.PAGE_WRITECOPY
	Execute          Protection = windows.PAGE_EXECUTE
	ExecuteRead      Protection = windows.PAGE_EXECUTE_READ
	ExecuteReadWrite Protection = windows.PAGE_EXECUTE_READWRITE
	ExecuteWriteCopy Protection = windows.PAGE_EXECUTE_WRITECOPY
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

// unprotect switches the pages covering [at, at+size) to prot and
// returns a closure restoring the previous protection, for use with
// defer. When the protection change is refused the returned ok is
// false and the closure is a no-op.
func unprotect(at Pointer, size uintptr, prot Protection) (restore func(), ok bool) {
	var old uint32
	if err := windows.VirtualProtect(at.Addr(), size, uint32(prot), &old); err != nil {
		return func() {}, false
	}
	return func() {
		var scratch uint32
		_ = windows.VirtualProtect(at.Addr(), size, old, &scratch)
	}, true
}

// Read loads a value of type T from the address under a scoped
// unprotect. The zero value is returned when the protection change is
// refused.
func Read[T any](at Pointer) T {
	var value T
	restore, ok := unprotect(at, unsafe.Sizeof(value), ExecuteReadWrite)
	if !ok {
		return value
	}
	defer restore()
	return *As[T](at)
}

// Write stores a value of type T at the address under a scoped
// unprotect and flushes the instruction cache for the range. It
// reports false, without writing, when the protection change is
// refused.
func Write[T any](at Pointer, value T) bool {
	size := unsafe.Sizeof(value)
	restore, ok := unprotect(at, size, ExecuteReadWrite)
	if !ok {
		return false
	}
	defer restore()
	*As[T](at) = value
	Flush(at, size)
	return true
}

// Fill sets size bytes at the address to value.
func Fill(at Pointer, value byte, size uintptr) bool {
	restore, ok := unprotect(at, size, ExecuteReadWrite)
	if !ok {
		return false
	}
	defer restore()
	dst := view(at, size)
	for i := range dst {
		dst[i] = value
	}
	Flush(at, size)
	return true
}

// Copy copies size bytes from src to dst.
func Copy(dst, src Pointer, size uintptr) bool {
	restore, ok := unprotect(dst, size, ExecuteReadWrite)
	if !ok {
		return false
	}
	defer restore()
	copy(view(dst, size), view(src, size))
	Flush(dst, size)
	return true
}

// Compare byte-compares two ranges of size bytes, with the same result
// convention as bytes.Compare.
func Compare(a, b Pointer, size uintptr) int {
	restoreA, okA := unprotect(a, size, ExecuteReadWrite)
	if okA {
		defer restoreA()
	}
	restoreB, okB := unprotect(b, size, ExecuteReadWrite)
	if okB {
		defer restoreB()
	}
	return bytes.Compare(view(a, size), view(b, size))
}

// Flush flushes the instruction cache for size bytes at the address.
func Flush(at Pointer, size uintptr) bool {
	r, _, _ := procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), at.Addr(), size)
	return r != 0
}

// IsExecutable reports whether the region covering the address is
// committed and not marked no-access.
func IsExecutable(at Pointer) bool {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(at.Addr(), &mbi, unsafe.Sizeof(mbi)); err != nil {
		return false
	}
	return mbi.State == windows.MEM_COMMIT && mbi.Protect != windows.PAGE_NOACCESS
}
