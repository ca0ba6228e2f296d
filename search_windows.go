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
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/The-Musaigen/memwrapper/internal/log"
)

const (
	// IMAGE_DOS_HEADER.e_lfanew
	offLfanew = 0x3C
	// IMAGE_NT_HEADERS32: Signature(4) + IMAGE_FILE_HEADER(20) +
	// IMAGE_OPTIONAL_HEADER32.SizeOfImage at +56
	offSizeOfImage = 4 + 20 + 56
	// "PE\0\0"
	ntSignature = 0x00004550
)

// moduleHandle resolves the base address of a loaded module; the empty
// name resolves the process executable. Null when not loaded.
func moduleHandle(name string) Pointer {
	var namep *uint16
	if name != "" {
		p, err := windows.UTF16PtrFromString(name)
		if err != nil {
			return 0
		}
		namep = p
	}
	var handle windows.Handle
	if err := windows.GetModuleHandleEx(0, namep, &handle); err != nil {
		return 0
	}
	return Pointer(handle)
}

// FindPattern scans the image of a loaded module for a masked byte
// pattern. Mask character '?' matches any byte; any other character
// requires the byte to equal the pattern byte at that position. It
// returns the first matching address, or a null pointer when the
// module is not loaded, its image is not a valid PE, the mask is
// empty, or nothing matches.
func FindPattern(module string, pattern []byte, mask string) Pointer {
	if len(mask) == 0 {
		return 0
	}

	handle := moduleHandle(module)
	if handle.IsNull() {
		return 0
	}

	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(handle.Addr(), &mbi, unsafe.Sizeof(mbi)); err != nil {
		return 0
	}
	base := Pointer(mbi.AllocationBase)

	nt := base.Front(uintptr(Read[uint32](base.Front(offLfanew))))
	if Read[uint32](nt) != ntSignature {
		return 0
	}
	imageSize := uintptr(Read[uint32](nt.Front(offSizeOfImage)))

	end := base.Addr() + imageSize
	for now := base; now.Addr()+uintptr(len(mask)) <= end; now = now.Front(1) {
		if matchAt(view(now, uintptr(len(mask))), pattern, mask) {
			log.L.Debug("pattern found",
				zap.String("module", module),
				log.Addr("at", now.Addr()))
			return now
		}
	}
	return 0
}
