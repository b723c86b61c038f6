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

package kernel

import (
	"github.com/guestrun/guestrun/pkg/arch"
)

// straceExit logs a completed syscall in strace format.
//
// Preconditions: t.regs holds the syscall result.
func (t *Task) straceExit(sysno uintptr, args arch.SyscallArguments, rval uintptr, err error) {
	name := t.k.syscallName(sysno)
	if err != nil {
		t.Infof("%s(%#x, %#x, %#x, %#x, %#x, %#x) = -1 errno=%d (%v)",
			name, args[0].Value, args[1].Value, args[2].Value, args[3].Value, args[4].Value, args[5].Value,
			-int64(t.regs.Return()), err)
		return
	}
	t.Infof("%s(%#x, %#x, %#x, %#x, %#x, %#x) = %#x",
		name, args[0].Value, args[1].Value, args[2].Value, args[3].Value, args[4].Value, args[5].Value, rval)
}
