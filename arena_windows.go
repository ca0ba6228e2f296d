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
	"fmt"
	"os"

	"golang.org/x/sys/windows"

	"github.com/The-Musaigen/memwrapper/internal/log"
)

// Register is an x86 general-purpose register number as encoded in
// ModRM/SIB fields.
type Register byte

const (
	Eax Register = iota
	Ecx
	Edx
	Ebx
	Esp
	Ebp
	Esi
	Edi
)

// Allocator owns a page-aligned read/write/execute region and appends
// code to it through a bounded cursor. Appends past the capacity are
// dropped and reported through the boolean results; they never fault.
type Allocator struct {
	code   Pointer
	size   uint32
	offset uint32
}

// NewAllocator commits a read/write/execute region of at least size
// bytes, rounded up to the system page size.
func NewAllocator(size uint32) (*Allocator, error) {
	size = align(size, uint32(os.Getpagesize()))
	base, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("memwrapper: allocating arena: %w", err)
	}
	log.L.Debug("arena allocated", log.Addr("base", base), log.Size(int(size)))
	return &Allocator{code: Pointer(base), size: size}, nil
}

// Byte appends a single byte.
func (a *Allocator) Byte(op byte) bool {
	if a.offset+1 > a.size {
		return false
	}
	*As[byte](a.code.Front(uintptr(a.offset))) = op
	a.offset++
	return true
}

// Bytes appends a byte sequence.
func (a *Allocator) Bytes(src []byte) bool {
	ok := true
	for _, op := range src {
		ok = a.Byte(op) && ok
	}
	return ok
}

// Uint32 appends a 32-bit value in little-endian byte order.
func (a *Allocator) Uint32(value uint32) bool {
	ok := true
	for i := 0; i < 4; i++ {
		ok = a.Byte(byte(value>>(8*i))) && ok
	}
	return ok
}

// Begin returns the start of the region.
func (a *Allocator) Begin() Pointer {
	return a.code
}

// Now returns the current append position.
func (a *Allocator) Now() Pointer {
	return a.code.Front(uintptr(a.offset))
}

// At returns the address at the given offset inside the region.
func (a *Allocator) At(offset uint32) Pointer {
	return a.code.Front(uintptr(offset))
}

// Size returns the region capacity.
func (a *Allocator) Size() uint32 {
	return a.size
}

// Offset returns the append cursor.
func (a *Allocator) Offset() uint32 {
	return a.offset
}

// SetOffset moves the append cursor.
func (a *Allocator) SetOffset(offset uint32) error {
	if offset >= a.size {
		return ErrOffsetOutOfRange
	}
	a.offset = offset
	return nil
}

// Ready flushes the instruction cache across the whole region. Call it
// after emission, before the code runs.
func (a *Allocator) Ready() bool {
	return Flush(a.code, uintptr(a.size))
}

// Free releases the region. Further calls are no-ops.
func (a *Allocator) Free() error {
	if a.code.IsNull() {
		return nil
	}
	log.L.Debug("arena freed", log.Addr("base", a.code.Addr()))
	err := windows.VirtualFree(a.code.Addr(), 0, windows.MEM_RELEASE)
	a.code = 0
	a.size = 0
	a.offset = 0
	if err != nil {
		return fmt.Errorf("memwrapper: freeing arena: %w", err)
	}
	return nil
}

// Push appends push r32.
func (a *Allocator) Push(reg Register) bool {
	return a.Byte(0x50 + byte(reg))
}

// Pop appends pop r32.
func (a *Allocator) Pop(reg Register) bool {
	return a.Byte(0x58 + byte(reg))
}

// MovRegMem appends mov r32, [base+disp]. An ESP base always carries
// its SIB byte; EBP with zero displacement still encodes disp8, both
// per the ModRM addressing rules.
func (a *Allocator) MovRegMem(dst, base Register, disp int8) bool {
	ok := a.Byte(0x8B)

	mod := byte(0x40) // disp8
	if disp == 0 && base != Ebp {
		mod = 0x00
	}
	ok = a.Byte(mod|byte(dst)<<3|byte(base)) && ok
	if base == Esp {
		ok = a.Byte(0x24) && ok
	}
	if mod == 0x40 {
		ok = a.Byte(byte(disp)) && ok
	}
	return ok
}

// MovMemReg appends mov [abs32], r32, using the short A3 form for EAX.
func (a *Allocator) MovMemReg(at Pointer, src Register) bool {
	if src == Eax {
		return a.Byte(0xA3) && a.Uint32(uint32(at.Addr()))
	}
	return a.Byte(0x89) && a.Byte(0x05|byte(src)<<3) && a.Uint32(uint32(at.Addr()))
}

// Jmp appends jmp rel32 targeting an absolute address; the rel32 is
// computed from the current cursor.
func (a *Allocator) Jmp(to Pointer) bool {
	rel := relative(to.Addr(), a.Now().Addr(), nearJmpLen)
	return a.Byte(opJmp) && a.Uint32(rel)
}
