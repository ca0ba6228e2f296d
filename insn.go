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

import "golang.org/x/arch/x86/x86asm"

// maxInstLen is the longest legal x86 instruction encoding.
const maxInstLen = 15

type instFlag uint8

const (
	flagError instFlag = 1 << iota
	flagRelative
	flagImm8
	flagImm32
)

// instruction is the decoded view the hook engine works with: how long
// the instruction is, its opcode byte(s), whether it carries an
// IP-relative operand, and that operand's value.
type instruction struct {
	len     int
	opcode  byte
	opcode2 byte
	flags   instFlag
	imm     int32
}

// decode disassembles one 32-bit mode instruction at the start of src.
// On any decoder failure only flagError is set. x86asm reports some
// undecodable sequences (runs of prefixes, truncated opcodes) as a
// lone prefix with no opcode and no error; those count as failures.
func decode(src []byte) instruction {
	inst, err := x86asm.Decode(src, 32)
	if err != nil || inst.Op == 0 {
		return instruction{flags: flagError}
	}

	is := instruction{
		len:    inst.Len,
		opcode: byte(inst.Opcode >> 24),
	}
	if is.opcode == opEscape {
		is.opcode2 = byte(inst.Opcode >> 16)
	}

	for _, arg := range inst.Args {
		rel, ok := arg.(x86asm.Rel)
		if !ok {
			continue
		}
		is.flags |= flagRelative
		is.imm = int32(rel)
		if is.opcode == opCall || is.opcode == opJmp ||
			(is.opcode == opEscape && is.opcode2&0xF0 == 0x80) {
			is.flags |= flagImm32
		} else {
			is.flags |= flagImm8
		}
		break
	}
	return is
}
