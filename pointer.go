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

package memwrapper

import "unsafe"

// Pointer is a machine-word address. It carries no ownership and does no
// bounds checking; it exists so that addresses, raw pointers and typed
// pointers convert into each other without unsafe noise at every call
// site.
type Pointer uintptr

// MakePointer converts a raw pointer into a Pointer.
func MakePointer(p unsafe.Pointer) Pointer {
	return Pointer(uintptr(p))
}

// PointerTo converts a typed pointer into a Pointer.
func PointerTo[T any](v *T) Pointer {
	return Pointer(uintptr(unsafe.Pointer(v)))
}

// As reinterprets the address as a typed pointer.
func As[T any](p Pointer) *T {
	return (*T)(unsafe.Pointer(uintptr(p)))
}

// Addr returns the address as an integer.
func (p Pointer) Addr() uintptr {
	return uintptr(p)
}

// Raw returns the address as a raw pointer.
func (p Pointer) Raw() unsafe.Pointer {
	return unsafe.Pointer(uintptr(p))
}

// IsNull reports whether the address is zero.
func (p Pointer) IsNull() bool {
	return p == 0
}

// Front returns the address shifted forward by step bytes.
func (p Pointer) Front(step uintptr) Pointer {
	return p + Pointer(step)
}

// Back returns the address shifted back by step bytes.
func (p Pointer) Back(step uintptr) Pointer {
	return p - Pointer(step)
}

// view exposes size bytes at the address as a slice. The slice aliases
// live memory and is only valid while that memory stays mapped.
func view(at Pointer, size uintptr) []byte {
	return unsafe.Slice((*byte)(at.Raw()), size)
}
