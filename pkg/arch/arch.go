// Copyright 2026 The guestrun Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package arch describes the guest register file and the guest syscall
// calling convention.
//
// The guest ABI is x86-64 Linux: the syscall number is passed in RAX, the
// arguments in RDI, RSI, RDX, R10, R8 and R9, and the result is returned in
// RAX, with failures encoded as a negated errno.
package arch

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/hostarch"
)

// SyscallArgumentCount is the number of argument registers defined by the
// guest calling convention.
const SyscallArgumentCount = 6

// Registers is a snapshot of the guest general purpose register file.
//
// Registers is a plain value: copying it copies the entire register state,
// and it carries no reference to the thread it was read from.
type Registers struct {
	R15    uint64
	R14    uint64
	R13    uint64
	R12    uint64
	Rbp    uint64
	Rbx    uint64
	R11    uint64
	R10    uint64
	R9     uint64
	R8     uint64
	Rax    uint64
	Rcx    uint64
	Rdx    uint64
	Rsi    uint64
	Rdi    uint64
	Rip    uint64
	Rflags uint64
	Rsp    uint64
	FsBase uint64
	GsBase uint64
}

// IP returns the current instruction pointer.
func (r *Registers) IP() uintptr {
	return uintptr(r.Rip)
}

// SetIP sets the current instruction pointer.
func (r *Registers) SetIP(v uintptr) {
	r.Rip = uint64(v)
}

// Stack returns the current stack pointer.
func (r *Registers) Stack() uintptr {
	return uintptr(r.Rsp)
}

// SetStack sets the current stack pointer.
func (r *Registers) SetStack(v uintptr) {
	r.Rsp = uint64(v)
}

// SyscallNo returns the syscall number held in the syscall number register.
func (r *Registers) SyscallNo() uintptr {
	return uintptr(r.Rax)
}

// SyscallArgs returns the syscall arguments held in the argument registers.
func (r *Registers) SyscallArgs() SyscallArguments {
	return SyscallArguments{
		SyscallArgument{Value: uintptr(r.Rdi)},
		SyscallArgument{Value: uintptr(r.Rsi)},
		SyscallArgument{Value: uintptr(r.Rdx)},
		SyscallArgument{Value: uintptr(r.R10)},
		SyscallArgument{Value: uintptr(r.R8)},
		SyscallArgument{Value: uintptr(r.R9)},
	}
}

// SetSyscall loads sysno and args into the registers the calling convention
// assigns to them. Missing arguments are zeroed.
func (r *Registers) SetSyscall(sysno uintptr, args ...SyscallArgument) {
	if len(args) > SyscallArgumentCount {
		panic(fmt.Sprintf("syscall takes at most %d arguments, got %d", SyscallArgumentCount, len(args)))
	}
	var a SyscallArguments
	copy(a[:], args)
	r.Rax = uint64(sysno)
	r.Rdi = a[0].Uint64()
	r.Rsi = a[1].Uint64()
	r.Rdx = a[2].Uint64()
	r.R10 = a[3].Uint64()
	r.R8 = a[4].Uint64()
	r.R9 = a[5].Uint64()
}

// Return returns the value of the syscall return register.
func (r *Registers) Return() uintptr {
	return uintptr(r.Rax)
}

// SetReturn sets the syscall return register.
func (r *Registers) SetReturn(v uintptr) {
	r.Rax = uint64(v)
}

// SetErrno stores the negated errno in the syscall return register.
func (r *Registers) SetErrno(errno uintptr) {
	r.Rax = uint64(-int64(errno))
}

// String implements fmt.Stringer.
func (r *Registers) String() string {
	return fmt.Sprintf("rip=%#x rsp=%#x rax=%#x rdi=%#x rsi=%#x rdx=%#x r10=%#x r8=%#x r9=%#x",
		r.Rip, r.Rsp, r.Rax, r.Rdi, r.Rsi, r.Rdx, r.R10, r.R8, r.R9)
}

// SyscallArgument is an argument supplied to a syscall implementation. The
// accessors are named after the C type of the argument and perform the
// matching truncation and sign extension.
type SyscallArgument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uintptr
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [SyscallArgumentCount]SyscallArgument

// Pointer returns the guest address held by a pointer argument.
func (a SyscallArgument) Pointer() hostarch.Addr {
	return hostarch.Addr(a.Value)
}

// Int returns the int32 representation of a 32-bit signed integer argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint returns the uint32 representation of a 32-bit unsigned integer argument.
func (a SyscallArgument) Uint() uint32 {
	return uint32(a.Value)
}

// Int64 returns the int64 representation of a 64-bit signed integer argument.
func (a SyscallArgument) Int64() int64 {
	return int64(a.Value)
}

// Uint64 returns the uint64 representation of a 64-bit unsigned integer argument.
func (a SyscallArgument) Uint64() uint64 {
	return uint64(a.Value)
}

// SizeT returns the uint representation of a size_t argument.
func (a SyscallArgument) SizeT() uint {
	return uint(a.Value)
}
