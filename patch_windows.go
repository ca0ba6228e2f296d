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
)

// PatchUnit replaces bytes at an address and owns a backup of equal
// length, so the edit can be undone at any time.
type PatchUnit struct {
	address     Pointer
	replacement []byte
	original    []byte
}

// NewPatchUnit builds a unit replacing len(replacement) bytes at the
// address; the backup is captured from the target immediately.
func NewPatchUnit(at Pointer, replacement []byte) *PatchUnit {
	u := &PatchUnit{
		address:     at,
		replacement: bytes.Clone(replacement),
		original:    make([]byte, len(replacement)),
	}
	if len(u.original) > 0 {
		copy(u.original, view(at, uintptr(len(u.original))))
	}
	return u
}

// NewPatchUnitBackup builds a unit with a caller-supplied backup.
// The backup and replacement lengths must match.
func NewPatchUnitBackup(at Pointer, replacement, original []byte) *PatchUnit {
	if len(replacement) != len(original) {
		panic("memwrapper: replacement and backup must have the same length")
	}
	return &PatchUnit{
		address:     at,
		replacement: bytes.Clone(replacement),
		original:    bytes.Clone(original),
	}
}

// NewValuePatch builds a unit replacing the in-memory representation
// of a value of type T at the address.
func NewValuePatch[T any](at Pointer, value T) *PatchUnit {
	size := unsafe.Sizeof(value)
	replacement := make([]byte, size)
	copy(replacement, unsafe.Slice((*byte)(unsafe.Pointer(&value)), size))
	return NewPatchUnit(at, replacement)
}

// NewFillPatch builds a unit filling size bytes at the address with a
// single value.
func NewFillPatch(at Pointer, value byte, size int) *PatchUnit {
	return NewPatchUnit(at, bytes.Repeat([]byte{value}, size))
}

// NewModulePatchUnit builds a unit at module base plus offset. The
// module handle is resolved before the effective address is computed;
// an unloaded module is an error rather than a patch at a garbage
// address.
func NewModulePatchUnit(module string, offset uintptr, replacement []byte) (*PatchUnit, error) {
	base := moduleHandle(module)
	if base.IsNull() {
		return nil, ErrModuleNotFound
	}
	return NewPatchUnit(base.Front(offset), replacement), nil
}

// Address returns the patched address.
func (u *PatchUnit) Address() Pointer { return u.address }

// Install writes the replacement bytes.
func (u *PatchUnit) Install() bool {
	if len(u.replacement) == 0 {
		return true
	}
	return Copy(u.address, PointerTo(&u.replacement[0]), uintptr(len(u.replacement)))
}

// Restore writes the backup bytes.
func (u *PatchUnit) Restore() bool {
	if len(u.original) == 0 {
		return true
	}
	return Copy(u.address, PointerTo(&u.original[0]), uintptr(len(u.original)))
}

// Patch aggregates units and applies them together. Units install and
// restore in the order they were added; a failing unit does not roll
// back the ones before it.
type Patch struct {
	units []*PatchUnit
}

// Add appends a unit to the group.
func (p *Patch) Add(unit *PatchUnit) {
	p.units = append(p.units, unit)
}

// Install writes every unit's replacement, in the order added.
func (p *Patch) Install() {
	for _, unit := range p.units {
		unit.Install()
	}
}

// Remove writes every unit's backup, in the order added.
func (p *Patch) Remove() {
	for _, unit := range p.units {
		unit.Restore()
	}
}

// Toggle installs when status is true and removes otherwise.
func (p *Patch) Toggle(status bool) {
	if status {
		p.Install()
	} else {
		p.Remove()
	}
}

// Close restores every unit, for use with defer.
func (p *Patch) Close() error {
	p.Remove()
	return nil
}
