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

/*
Package memwrapper modifies the code of the running process: it installs
inline hooks on native functions and applies scoped byte patches with
automatic restoration. It is intended to be linked into a host process
(a plugin, a game modification, an instrumentation agent) and operates
on that process only.

# Platforms supported

The library rewrites x86 machine code and talks to the Windows virtual
memory API directly, therefore it is OS- and CPU arch-specific.

Supported OS/arch combinations:
  - Windows / x86 (386)

# Hooking

A hook redirects a function (the target) to a replacement (the
callback) while keeping the original behavior callable through a
generated trampoline:

	target := memwrapper.Pointer(0x00401000) // some cdecl int(int, int)

	var hook *memwrapper.Hook
	callback := windows.NewCallbackCDecl(func(a, b uintptr) uintptr {
	    return hook.Call(a+4, b) // invoke the original with modified args
	})

	hook = memwrapper.NewHook(target, memwrapper.Pointer(callback), memwrapper.Cdecl)
	if err := hook.Install(); err != nil {
	    // target not executable, prologue not decodable, ...
	}
	defer hook.Close()

The callback runs in place of the target; Hook.Call invokes the
original prologue relocated into the hook's executable arena.
Hook.ReturnAddress reports the return address captured when the
callback was entered, which identifies the call site.

Install, Remove and Call on one hook must be ordered by the caller,
and no other thread may be executing the first instructions of the
target while they run. The library does not suspend threads.

# Patching

A PatchUnit replaces bytes at an address and keeps a backup of equal
length; a Patch groups units and installs or restores them together:

	unit := memwrapper.NewPatchUnit(at, []byte{0x90, 0x90})

	var patch memwrapper.Patch
	patch.Add(unit)
	patch.Install()
	defer patch.Close() // restores every unit in the order added

# Signature scanning

FindPattern scans a loaded module's image for a masked byte pattern:

	at := memwrapper.FindPattern("samp.dll", []byte{0x8B, 0x44, 0x00, 0x04}, "xx?x")
	if at.IsNull() {
	    // module not loaded, or no match
	}

Mask character '?' matches any byte; any other character requires the
byte at that position to equal the pattern byte.
*/
package memwrapper
