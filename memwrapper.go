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

import (
	"errors"

	"github.com/The-Musaigen/memwrapper/internal/log"
)

// Version of the library.
const Version = "1.0.2"

var (
	// ErrListingBroken means the target prologue could not be disassembled
	// up to the patch boundary, so the target cannot be hooked.
	ErrListingBroken = errors.New("cannot disassemble target prologue")
	// ErrNotExecutable means the target address is not inside committed,
	// accessible memory (IsExecutable reported false).
	ErrNotExecutable = errors.New("target memory is not executable")
	// ErrAlreadyInstalled means Install was called on an installed hook.
	ErrAlreadyInstalled = errors.New("hook already installed")
	// ErrNotInstalled means Remove was called on a hook that is not installed.
	ErrNotInstalled = errors.New("hook not installed")
	// ErrDoubleHook means another hook is already installed at the address.
	ErrDoubleHook = errors.New("another hook installed at this address")
	// ErrModuleNotFound means the named module is not loaded into the process.
	ErrModuleNotFound = errors.New("module not loaded")
	// ErrOutOfSpace means code emission ran past the arena capacity.
	ErrOutOfSpace = errors.New("arena capacity exceeded")
	// ErrOffsetOutOfRange means SetOffset was called with an offset outside
	// the arena.
	ErrOffsetOutOfRange = errors.New("offset out of arena range")
)

// SetDebug enables or disables debug logging of hook, arena, calling
// convention thunk and pattern-scan activity; patch units log nothing.
// Logging is off by default.
func SetDebug(enabled bool) {
	log.Set(enabled)
}
