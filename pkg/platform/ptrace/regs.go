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


//go:build linux && amd64

package ptrace

import (
	"github.com/guestrun/guestrun/pkg/arch"
	"golang.org/x/sys/unix"
)

// toRegisters copies the general purpose registers in pr to r.
func toRegisters(pr *unix.PtraceRegs, r *arch.Registers) {
	*r = arch.Registers{
		R15:    pr.R15,
		R14:    pr.R14,
		R13:    pr.R13,
		R12:    pr.R12,
		Rbp:    pr.Rbp,
		Rbx:    pr.Rbx,
		R11:    pr.R11,
		R10:    pr.R10,
		R9:     pr.R9,
		R8:     pr.R8,
		Rax:    pr.Rax,
		Rcx:    pr.Rcx,
		Rdx:    pr.Rdx,
		Rsi:    pr.Rsi,
		Rdi:    pr.Rdi,
		Rip:    pr.Rip,
		Rflags: pr.Eflags,
		Rsp:    pr.Rsp,
		FsBase: pr.Fs_base,
		GsBase: pr.Gs_base,
	}
}

// fromRegisters overlays the general purpose registers in r on pr. Segment
// selectors and orig_rax are left alone.
func fromRegisters(r *arch.Registers, pr *unix.PtraceRegs) {
	pr.R15 = r.R15
	pr.R14 = r.R14
	pr.R13 = r.R13
	pr.R12 = r.R12
	pr.Rbp = r.Rbp
	pr.Rbx = r.Rbx
	pr.R11 = r.R11
	pr.R10 = r.R10
	pr.R9 = r.R9
	pr.R8 = r.R8
	pr.Rax = r.Rax
	pr.Rcx = r.Rcx
	pr.Rdx = r.Rdx
	pr.Rsi = r.Rsi
	pr.Rdi = r.Rdi
	pr.Rip = r.Rip
	pr.Eflags = r.Rflags
	pr.Rsp = r.Rsp
	pr.Fs_base = r.FsBase
	pr.Gs_base = r.GsBase
}

// updateSyscallRegs fixes up registers read at a syscall-enter stop.
func updateSyscallRegs(pr *unix.PtraceRegs) {
	// Ptrace puts -ENOSYS in rax on syscall-enter-stop.
	pr.Rax = pr.Orig_rax
}
