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

// Package syscalls is the interface from guest applications to the kernel.
//
// A SyscallTable maps guest syscall numbers to implementations and is the
// kernel's SyscallDispatcher. Implementations run on the task goroutine
// while the guest thread is stopped in its syscall trap.
package syscalls

import (
	"fmt"
	"sort"

	"github.com/guestrun/guestrun/pkg/arch"
	"github.com/guestrun/guestrun/pkg/kernel"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
)

// SyscallFn is a syscall implementation.
type SyscallFn func(t *kernel.Task, args arch.SyscallArguments) (uintptr, error)

// MissingFn is called to handle syscalls that have no entry in a table.
type MissingFn func(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error)

// Syscall is a named syscall implementation.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation.
	Fn SyscallFn
}

// Supported returns a Syscall for an implemented syscall.
func Supported(name string, fn SyscallFn) Syscall {
	return Syscall{Name: name, Fn: fn}
}

// Error returns a Syscall that always fails with err.
func Error(name string, err error) Syscall {
	return Syscall{
		Name: name,
		Fn: func(*kernel.Task, arch.SyscallArguments) (uintptr, error) {
			return 0, err
		},
	}
}

// SyscallTable is a guest syscall ABI. It implements
// kernel.SyscallDispatcher and kernel.SyscallNamer.
type SyscallTable struct {
	// Name identifies the ABI, e.g. "linux/amd64".
	Name string

	// Table maps syscall numbers to implementations. It must not be
	// modified after the table is in use.
	Table map[uintptr]Syscall

	// Missing handles syscalls without an entry in Table. If nil, such
	// syscalls fail with ENOSYS.
	Missing MissingFn
}

// Entry is a syscall number and its name.
type Entry struct {
	Sysno uintptr `json:"sysno"`
	Name  string  `json:"name"`
}

// Lookup returns the implementation of sysno, or nil.
func (s *SyscallTable) Lookup(sysno uintptr) SyscallFn {
	if sc, ok := s.Table[sysno]; ok {
		return sc.Fn
	}
	return nil
}

// LookupNo returns the number of the syscall named name.
func (s *SyscallTable) LookupNo(name string) (uintptr, error) {
	for sysno, sc := range s.Table {
		if sc.Name == name {
			return sysno, nil
		}
	}
	return 0, fmt.Errorf("syscall %q not found in table %s", name, s.Name)
}

// SyscallName implements kernel.SyscallNamer.SyscallName.
func (s *SyscallTable) SyscallName(sysno uintptr) string {
	if sc, ok := s.Table[sysno]; ok && sc.Name != "" {
		return sc.Name
	}
	return fmt.Sprintf("sys_%d", sysno)
}

// Entries returns the table's syscalls ordered by number.
func (s *SyscallTable) Entries() []Entry {
	entries := make([]Entry, 0, len(s.Table))
	for sysno, sc := range s.Table {
		entries = append(entries, Entry{Sysno: sysno, Name: sc.Name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sysno < entries[j].Sysno })
	return entries
}

// Dispatch implements kernel.SyscallDispatcher.Dispatch.
func (s *SyscallTable) Dispatch(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	if fn := s.Lookup(sysno); fn != nil {
		return fn(t, args)
	}
	if s.Missing != nil {
		return s.Missing(t, sysno, args)
	}
	return 0, linuxerr.ENOSYS
}
