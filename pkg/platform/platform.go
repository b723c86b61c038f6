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

// Package platform provides the host kernel primitives that guest tasks are
// built on: jobs, processes, threads, suspension tokens, trap channels and
// address spaces.
//
// A host thread that executes a guest syscall instruction raises a trap. The
// trap is delivered as a Notification on the thread's TrapChannel and the
// thread stays stopped until the notification is resolved with an Outcome.
package platform

import (
	"errors"
	"fmt"

	"github.com/guestrun/guestrun/pkg/arch"
	"gvisor.dev/gvisor/pkg/hostarch"
)

// ThreadID identifies a host thread.
type ThreadID uint64

// Job is a container in which host processes are created.
type Job interface {
	// CreateProcess creates a new process named name. The process is not
	// started; it starts running when Process.Start is called with its
	// first thread. The returned AddressSpace is the root of the new
	// process's address space.
	CreateProcess(name string) (Process, AddressSpace, error)
}

// Process is a handle to a host process.
type Process interface {
	// ID returns the host identity of the process.
	ID() uint64

	// CreateThread creates a new, unstarted thread in the process.
	CreateThread(name string) (Thread, error)

	// Start starts the process with t as its first thread.
	//
	// Preconditions: t was created by CreateThread on this process.
	Start(t Thread) error

	// DebugAddr returns the address registered for debuggers attached to
	// the process, or zero if none has been registered.
	DebugAddr() (hostarch.Addr, error)

	// SetDebugAddr registers addr for debuggers attached to the process.
	SetDebugAddr(addr hostarch.Addr) error

	// Close releases the handle. It does not kill the process.
	Close() error
}

// Thread is a handle to a host thread.
type Thread interface {
	// ID returns the host identity of the thread.
	ID() ThreadID

	// Start starts a thread that is not the first thread of its process.
	Start() error

	// Suspend requests that the thread stop executing guest instructions.
	// The thread remains suspended until every returned token is released.
	// Suspension takes effect asynchronously; see WaitSuspended.
	Suspend() (SuspendToken, error)

	// WaitSuspended blocks until the thread reports that it is suspended.
	WaitSuspended() error

	// ReadRegisters copies the thread's register state into regs.
	//
	// Preconditions: the thread is suspended or stopped in a trap.
	ReadRegisters(regs *arch.Registers) error

	// WriteRegisters replaces the thread's register state with regs.
	//
	// Preconditions: the thread is suspended or stopped in a trap.
	WriteRegisters(regs *arch.Registers) error

	// CreateTrapChannel creates the channel on which the thread's traps
	// are delivered. At most one channel may exist per thread.
	CreateTrapChannel() (TrapChannel, error)

	// Kill terminates the thread.
	Kill() error

	// Close releases the handle. It does not kill the thread.
	Close() error
}

// SuspendToken keeps a thread suspended until it is released.
type SuspendToken interface {
	// Release drops the suspension. Release must be called exactly once.
	Release() error
}

// TrapChannel delivers the traps raised by one thread.
type TrapChannel interface {
	// Read blocks until the next trap is raised. It returns
	// ErrChannelClosed once the channel has been closed, either by Close
	// or by the host because the thread can no longer be observed.
	Read() (*Notification, error)

	// Close closes the channel. A concurrent Read returns
	// ErrChannelClosed. Close may be called more than once.
	Close() error
}

// Resolver completes a trap.
type Resolver interface {
	// Resolve sets the trap's outcome and releases the trap. The thread
	// continues according to the outcome.
	Resolve(o Outcome) error
}

// Notification is a single trap read from a TrapChannel.
type Notification struct {
	// Thread is the identity of the thread that raised the trap.
	Thread ThreadID

	// Report is the raw trap report. It is decoded with ParseTrapReport.
	Report []byte

	// Resolver completes the trap. A notification must be resolved exactly
	// once for the thread to continue.
	Resolver Resolver
}

// Resolve resolves the notification with outcome o.
func (n *Notification) Resolve(o Outcome) error {
	return n.Resolver.Resolve(o)
}

// Outcome is the disposition of a trap.
type Outcome int

const (
	// OutcomePassToNext passes the trap to the next handler in the host's
	// handler chain.
	OutcomePassToNext Outcome = iota

	// OutcomeHandled resumes the thread from its current register state.
	OutcomeHandled

	// OutcomeTerminateThread terminates the thread.
	OutcomeTerminateThread
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomePassToNext:
		return "pass-to-next-handler"
	case OutcomeHandled:
		return "handled"
	case OutcomeTerminateThread:
		return "terminate-thread"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// AddressSpace is the memory of a host process.
type AddressSpace interface {
	// CopyIn copies len(dst) bytes from addr to dst. It returns the number
	// of bytes copied; if fewer than len(dst), the error explains why.
	CopyIn(addr hostarch.Addr, dst []byte) (int, error)

	// CopyOut copies len(src) bytes from src to addr. It returns the number
	// of bytes copied; if fewer than len(src), the error explains why.
	CopyOut(addr hostarch.Addr, src []byte) (int, error)

	// Release releases the address space handle.
	Release()
}

// ErrChannelClosed is returned by TrapChannel.Read when the channel is
// closed.
var ErrChannelClosed = errors.New("trap channel closed")
