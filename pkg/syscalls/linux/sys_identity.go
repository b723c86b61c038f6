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

// Getpid implements Linux syscall getpid(2).
func Getpid(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	return uintptr(t.ThreadGroup().ID()), nil
}

// Gettid implements Linux syscall gettid(2).
func Gettid(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	return uintptr(t.ThreadID()), nil
}

// Getppid implements Linux syscall getppid(2). Guest processes have no
// parent inside the guest, as for a process started by the host kernel.
func Getppid(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	return 0, nil
}
