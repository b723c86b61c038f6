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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/guestrun/guestrun/pkg/arch"
	"golang.org/x/sys/unix"
)

func TestRegisterConversion(t *testing.T) {
	pr := unix.PtraceRegs{
		Rax:      1,
		Rdi:      2,
		Rsi:      3,
		Rdx:      4,
		R10:      5,
		R8:       6,
		R9:       7,
		Rip:      0x401000,
		Rsp:      0x7ffe0000,
		Eflags:   0x246,
		Fs_base:  0x1000,
		Cs:       0x33,
		Ss:       0x2b,
		Orig_rax: 60,
	}
	var r arch.Registers
	toRegisters(&pr, &r)
	want := arch.Registers{
		Rax:    1,
		Rdi:    2,
		Rsi:    3,
		Rdx:    4,
		R10:    5,
		R8:     6,
		R9:     7,
		Rip:    0x401000,
		Rsp:    0x7ffe0000,
		Rflags: 0x246,
		FsBase: 0x1000,
	}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("toRegisters mismatch (-want +got):\n%s", diff)
	}

	r.Rax = 42
	r.Rip += 2
	fromRegisters(&r, &pr)
	if pr.Rax != 42 || pr.Rip != 0x401002 {
		t.Errorf("fromRegisters wrote rax=%d rip=%#x, want 42 and 0x401002", pr.Rax, pr.Rip)
	}
	if pr.Cs != 0x33 || pr.Ss != 0x2b || pr.Orig_rax != 60 {
		t.Errorf("fromRegisters changed segments or orig_rax: cs=%#x ss=%#x orig_rax=%d", pr.Cs, pr.Ss, pr.Orig_rax)
	}
}

func TestUpdateSyscallRegs(t *testing.T) {
	pr := unix.PtraceRegs{Rax: uint64(^uintptr(unix.ENOSYS) + 1), Orig_rax: 231}
	updateSyscallRegs(&pr)
	var r arch.Registers
	toRegisters(&pr, &r)
	if got := r.SyscallNo(); got != 231 {
		t.Errorf("SyscallNo()=%d, want 231", got)
	}
}
