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


package linux

import (
	"github.com/guestrun/guestrun/pkg/arch"
	"github.com/guestrun/guestrun/pkg/kernel"
)

// Exit implements Linux syscall exit(2).
func Exit(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	t.PrepareExit(args[0].Int() & 0xff)
	return 0, nil
}

// ExitGroup implements Linux syscall exit_group(2).
func ExitGroup(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	t.PrepareGroupExit(args[0].Int() & 0xff)
	return 0, nil
}

// SchedYield implements Linux syscall sched_yield(2). The guest thread is
// already off-CPU while its trap is handled, so there is nothing to do.
func SchedYield(*kernel.Task, arch.SyscallArguments) (uintptr, error) {
	return 0, nil
}
