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

// Package linux provides a minimal syscall table for amd64 Linux guests.
//
// The table covers process exit, output to the standard streams and process
// identity. It is enough to run small static programs; everything else fails
// with ENOSYS.
package linux

import (
	"io"

	"github.com/guestrun/guestrun/pkg/arch"
	"github.com/guestrun/guestrun/pkg/kernel"
	"github.com/guestrun/guestrun/pkg/syscalls"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/pkg/sync"
)

// Config configures the table returned by AMD64.
type Config struct {
	// Stdout receives writes to file descriptor 1. If nil, they are
	// discarded.
	Stdout io.Writer

	// Stderr receives writes to file descriptor 2. If nil, they are
	// discarded.
	Stderr io.Writer
}

// AMD64 returns a table of the Linux amd64 syscalls supported by guestrun,
// numbered as in Linux.
func AMD64(cfg Config) *syscalls.SyscallTable {
	s := newStreams(cfg)
	return &syscalls.SyscallTable{
		Name: "linux/amd64",
		Table: map[uintptr]syscalls.Syscall{
			1:   syscalls.Supported("write", s.Write),
			24:  syscalls.Supported("sched_yield", SchedYield),
			39:  syscalls.Supported("getpid", Getpid),
			60:  syscalls.Supported("exit", Exit),
			110: syscalls.Supported("getppid", Getppid),
			186: syscalls.Supported("gettid", Gettid),
			231: syscalls.Supported("exit_group", ExitGroup),
		},
		Missing: func(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
			t.Debugf("Unsupported syscall %d", sysno)
			return 0, linuxerr.ENOSYS
		},
	}
}

// streams holds the host side of the guest's standard streams.
type streams struct {
	// mu serializes writes from concurrent tasks.
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

func newStreams(cfg Config) *streams {
	s := &streams{stdout: cfg.Stdout, stderr: cfg.Stderr}
	if s.stdout == nil {
		s.stdout = io.Discard
	}
	if s.stderr == nil {
		s.stderr = io.Discard
	}
	return s
}
