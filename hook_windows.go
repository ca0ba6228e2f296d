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
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/The-Musaigen/memwrapper/internal/log"
)

const (
	// Arena layout, fixed by the context-capture stub:
	//
	//	0x00  push eax
	//	0x01  mov  eax, [esp+4]
	//	0x05  mov  [ctx], eax
	//	0x0A  pop  eax
	//	0x0B  jmp  callback          <- redirect slot
	//	0x10  relocated prologue     <- trampoline entry
	//	      jmp  target+size
	redirectSlotOffset = 0x0B
	trampolineOffset   = 0x10

	defaultArenaSize = 4096
	// the hook's context cell occupies the last bytes of its arena
	contextCellSize = 4
)

var (
	// hooks installed, keyed by target address
	hooks     = make(map[uintptr]*Hook)
	hooksLock sync.Mutex
)

// Hook redirects a native function (the target) to a callback while
// keeping the original entry callable through a relocated prologue.
// A Hook is constructed with NewHook, armed with Install, disarmed
// with Remove and may be re-armed any number of times.
//
// The first instructions of the target must not be executing on any
// thread while Install or Remove runs; quiescing is the caller's
// responsibility.
type Hook struct {
	target   Pointer
	callback Pointer
	conv     Convention

	size     int    // whole-instruction byte count overwritten at the target
	original []byte // saved prologue, exactly size bytes
	code     *Allocator
	ctx      Pointer // context cell inside the arena
	thunk    Pointer // thiscall/fastcall adapter, inside the arena

	installed     bool
	listingBroken bool
	executable    bool
	isCall        bool
	callAbs       uint32 // absolute target of the patched near-call site
}

// NewHook prepares a hook of target redirecting to callback. conv is
// the convention Call uses to invoke the original. The target prologue
// is disassembled immediately to find the smallest whole-instruction
// boundary of at least five bytes; failures are recorded and reported
// by Install.
func NewHook(target, callback Pointer, conv Convention) *Hook {
	if target.IsNull() || callback.IsNull() {
		panic("memwrapper: NewHook requires a non-null target and callback")
	}

	h := &Hook{
		target:   target,
		callback: callback,
		conv:     conv,
	}

	cursor := target
	for h.size < nearJmpLen {
		is := decode(view(cursor, maxInstLen))
		if is.flags&flagError != 0 {
			h.listingBroken = true
			break
		}
		cursor = cursor.Front(uintptr(is.len))
		h.size += is.len
	}
	h.executable = IsExecutable(target)

	log.L.Debug("hook prepared",
		log.Addr("target", target.Addr()),
		log.Addr("callback", callback.Addr()),
		log.Size(h.size),
		zap.Bool("broken", h.listingBroken),
		zap.Bool("executable", h.executable))
	return h
}

// Target returns the hooked address.
func (h *Hook) Target() Pointer { return h.target }

// Callback returns the replacement address.
func (h *Hook) Callback() Pointer { return h.callback }

// Size returns the overwrite size: the smallest whole-instruction byte
// count at the target that is at least five bytes. Zero when the
// listing is broken before the boundary.
func (h *Hook) Size() int {
	if h.listingBroken {
		return 0
	}
	return h.size
}

// Installed reports whether the hook currently redirects the target.
func (h *Hook) Installed() bool { return h.installed }

// ListingBroken reports whether the target prologue failed to
// disassemble; such a hook refuses installation.
func (h *Hook) ListingBroken() bool { return h.listingBroken }

// IsCallSite reports whether the target site begins with a direct
// near-call, in which case only its operand is patched and Call
// dispatches to the original call target.
func (h *Hook) IsCallSite() bool { return h.isCall }

// Trampoline returns the address Call dispatches to: the relocated
// prologue inside the arena, or the saved absolute target for a
// near-call site. Before the first installation it is the target
// itself.
func (h *Hook) Trampoline() Pointer {
	if h.isCall {
		return Pointer(h.callAbs)
	}
	if h.code == nil {
		return h.target
	}
	return h.code.At(trampolineOffset)
}

// ReturnAddress returns the return address captured the last time the
// callback was entered. Zero before the first installation.
func (h *Hook) ReturnAddress() uintptr {
	if h.ctx.IsNull() {
		return 0
	}
	return uintptr(Read[uint32](h.ctx))
}

// Call invokes the original behavior of the target with the hook's
// convention. It must not run before Install has completed; ordering
// against a concurrent Remove is the caller's responsibility.
func (h *Hook) Call(args ...uintptr) uintptr {
	return call(h.conv, h.Trampoline(), h.thunk, args...)
}

// Install arms the hook. A fresh hook allocates its arena, emits the
// context-capture stub, the redirect slot and the relocated prologue,
// then patches the target with a near jump (or, for a near-call site,
// rewrites only the call operand). A hook removed while a third party
// was chained on top re-arms by retargeting its redirect slot alone.
func (h *Hook) Install() error {
	if h.listingBroken {
		return ErrListingBroken
	}
	if !h.executable {
		return ErrNotExecutable
	}
	if h.installed {
		return ErrAlreadyInstalled
	}

	if h.code != nil {
		// arena survived the last removal: retarget the redirect slot
		if err := h.code.SetOffset(redirectSlotOffset); err != nil {
			return err
		}
		if !h.code.Jmp(h.callback) {
			return ErrOutOfSpace
		}
		h.code.Ready()
		h.installed = true
		log.L.Debug("hook re-armed", log.Addr("target", h.target.Addr()))
		return nil
	}

	hooksLock.Lock()
	if _, taken := hooks[h.target.Addr()]; taken {
		hooksLock.Unlock()
		return ErrDoubleHook
	}
	hooks[h.target.Addr()] = h
	hooksLock.Unlock()

	err := h.arm()
	if err != nil {
		hooksLock.Lock()
		delete(hooks, h.target.Addr())
		hooksLock.Unlock()
	}
	return err
}

func (h *Hook) arm() error {
	is := decode(view(h.target, maxInstLen))
	if is.opcode == opCall {
		h.isCall = true
		h.callAbs = restoreAbsolute(is.imm, h.target.Addr(), uintptr(is.len))
	}

	code, err := NewAllocator(defaultArenaSize)
	if err != nil {
		return err
	}
	h.code = code
	h.ctx = code.At(code.Size() - contextCellSize)

	h.original = make([]byte, h.size)
	copy(h.original, view(h.target, uintptr(h.size)))

	// context-capture stub: the return address sits at [esp+4] once
	// eax is parked on the stack
	ok := code.Push(Eax)
	ok = code.MovRegMem(Eax, Esp, 4) && ok
	ok = code.MovMemReg(h.ctx, Eax) && ok
	ok = code.Pop(Eax) && ok

	// redirect slot
	ok = code.Jmp(h.callback) && ok

	if !h.isCall {
		ok = h.relocatePrologue() && ok
	}
	ok = h.emitThunk() && ok

	if !ok {
		h.dispose()
		return ErrOutOfSpace
	}
	code.Ready()

	// patch the target; a call site keeps its E8 and gets a new operand
	rel := relative(code.Begin().Addr(), h.target.Addr(), nearJmpLen)
	if !h.isCall {
		Write[byte](h.target, byte(opJmp))
	}
	Write[uint32](h.target.Front(1), rel)
	if h.size > nearJmpLen {
		Fill(h.target.Front(nearJmpLen), opNop, uintptr(h.size-nearJmpLen))
	}

	h.installed = true
	log.L.Debug("hook installed",
		log.Addr("target", h.target.Addr()),
		log.Addr("arena", code.Begin().Addr()),
		zap.Bool("callsite", h.isCall))
	return nil
}

// relocatePrologue walks the saved instruction range and re-emits it
// at the arena cursor, rewriting every IP-relative instruction so it
// reaches its original absolute target, then appends the jump to the
// target's continuation. A decode failure mid-walk stops emission; the
// last emitted jump then terminates the trampoline.
func (h *Hook) relocatePrologue() bool {
	code := h.code
	now := h.target
	ok := true

	for step := 0; step < h.size; {
		is := decode(view(now, maxInstLen))
		if is.flags&flagError != 0 {
			return ok
		}
		end := now.Addr() + uintptr(is.len)

		switch {
		case is.opcode == opCall:
			// near call: recompute rel32 against the arena cursor
			dest := restoreAbsolute(is.imm, now.Addr(), uintptr(is.len))
			rel := relative(uintptr(dest), code.Now().Addr(), nearJmpLen)
			ok = code.Byte(opCall) && ok
			ok = code.Uint32(rel) && ok

		case is.opcode == opJmp || is.opcode == opJmpShort:
			// near or short jmp: emit as near jmp
			dest := uint32(end) + uint32(is.imm)
			rel := relative(uintptr(dest), code.Now().Addr(), nearJmpLen)
			ok = code.Byte(opJmp) && ok
			ok = code.Uint32(rel) && ok

		case is.opcode&0xF0 == 0x70 || (is.opcode == opEscape && is.opcode2&0xF0 == 0x80):
			// conditional jump: widen to the two-byte form, keeping the
			// condition nibble
			dest := uint32(end) + uint32(is.imm)
			cond := is.opcode & 0x0F
			if is.opcode == opEscape {
				cond = is.opcode2 & 0x0F
			}
			rel := relative(uintptr(dest), code.Now().Addr(), nearJccLen)
			ok = code.Byte(opEscape) && ok
			ok = code.Byte(0x80|cond) && ok
			ok = code.Uint32(rel) && ok

		default:
			ok = code.Bytes(view(now, uintptr(is.len))) && ok
		}

		step += is.len
		now = now.Front(uintptr(is.len))
	}

	// continuation: first instruction past the overwritten range
	return code.Jmp(now) && ok
}

// emitThunk appends the thiscall/fastcall adapter for Call. Stack-only
// conventions dispatch directly and need none.
func (h *Hook) emitThunk() bool {
	if h.conv != Thiscall && h.conv != Fastcall {
		return true
	}
	target := h.code.At(trampolineOffset)
	if h.isCall {
		target = Pointer(h.callAbs)
	}
	h.thunk = h.code.Now()
	return emitAdapter(h.code, h.conv, target)
}

// Remove disarms the hook. When the target still jumps into the arena
// the patch is reverted and the arena freed. When a third party has
// chained its own patch on top, the target is left alone and only the
// redirect slot is rewritten: to the saved absolute target for a call
// site, to a NOP sled otherwise, so an in-flight entry falls through
// into the relocated prologue. A target that no longer holds a
// relative imm32 instruction is treated as corrupted and restored
// outright.
func (h *Hook) Remove() error {
	if !h.installed {
		return ErrNotInstalled
	}

	is := decode(view(h.target, maxInstLen))
	if is.flags&flagError != 0 || is.flags&flagRelative == 0 || is.flags&flagImm32 == 0 {
		log.L.Debug("hook site corrupted, restoring prologue",
			log.Addr("target", h.target.Addr()))
		h.unload()
		return nil
	}

	dest := restoreAbsolute(is.imm, h.target.Addr(), uintptr(is.len))
	if dest == uint32(h.code.Begin().Addr()) {
		h.unload()
		return nil
	}

	// someone chained past us: detach inside the arena, leave the
	// target to its new owner
	if h.isCall {
		if err := h.code.SetOffset(redirectSlotOffset); err != nil {
			return err
		}
		h.code.Jmp(Pointer(h.callAbs))
	} else {
		Fill(h.code.At(redirectSlotOffset), opNop, nearJmpLen)
	}
	h.code.Ready()
	h.installed = false
	log.L.Debug("hook detached in arena", log.Addr("target", h.target.Addr()))
	return nil
}

// unload restores the saved prologue, frees the arena and forgets the
// registration.
func (h *Hook) unload() {
	Copy(h.target, PointerTo(&h.original[0]), uintptr(h.size))

	h.dispose()
	h.installed = false
	h.isCall = false
	h.callAbs = 0

	log.L.Debug("hook unloaded", log.Addr("target", h.target.Addr()))
}

// dispose releases the arena and the registry slot without touching
// the target.
func (h *Hook) dispose() {
	if h.code != nil {
		_ = h.code.Free()
		h.code = nil
	}
	h.ctx = 0
	h.thunk = 0
	h.original = nil

	hooksLock.Lock()
	delete(hooks, h.target.Addr())
	hooksLock.Unlock()
}

// Close removes the hook if it is installed. A hook that was detached
// under a chained third-party patch keeps its arena mapped: control
// may still flow through it.
func (h *Hook) Close() error {
	err := h.Remove()
	if errors.Is(err, ErrNotInstalled) {
		return nil
	}
	return err
}
