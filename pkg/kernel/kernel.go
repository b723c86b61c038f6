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

// Package kernel runs guest tasks on host threads.
//
// Each Task is backed by a host thread that traps whenever the guest executes
// a syscall instruction. A dedicated task goroutine bootstraps the host
// thread, then loops: it reads the next trap from the thread's trap channel,
// decodes the trapped registers into a syscall, dispatches the syscall to the
// Kernel's SyscallDispatcher, writes the result back and resumes the thread.
// The loop ends when the task's exit code is set.
//
// Lock order:
//
//	ThreadGroup.mu
//	  Task.mu
//	    ExitCode.mu
package kernel

import (
	"errors"
	"time"

	"github.com/guestrun/guestrun/pkg/arch"
	"gvisor.dev/gvisor/pkg/log"
)

// SyscallDispatcher implements guest syscalls.
type SyscallDispatcher interface {
	// Dispatch executes syscall sysno with args on behalf of t and returns
	// its result. A non-nil error is reported to the guest as a negated
	// errno; see ExtractErrno.
	//
	// Dispatch runs on t's task goroutine while the host thread is stopped
	// in the trap. t.Registers() holds the trapped register state and may be
	// modified; the modified state is written back to the host thread
	// before it resumes. Dispatch must not resume or suspend the host
	// thread.
	Dispatch(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error)
}

// SyscallNamer is implemented by SyscallDispatchers that can name syscalls
// for strace output.
type SyscallNamer interface {
	// SyscallName returns the name of sysno.
	SyscallName(sysno uintptr) string
}

// SignalDeliverer delivers pending guest signals.
type SignalDeliverer interface {
	// DequeueSignal delivers at most one pending signal to t, updating
	// t.Registers() as needed. It is called on t's task goroutine once per
	// dispatched syscall, after the syscall result has been stored and
	// before the host thread resumes.
	DequeueSignal(t *Task)
}

// NoSignals is a SignalDeliverer for guests that never receive signals.
type NoSignals struct{}

// DequeueSignal implements SignalDeliverer.DequeueSignal.
func (NoSignals) DequeueSignal(*Task) {}

// defaultPassThroughLogInterval is the minimum interval between log messages
// about traps passed to the next handler.
const defaultPassThroughLogInterval = time.Second

// InitKernelArgs holds arguments to NewKernel.
type InitKernelArgs struct {
	// Syscalls implements guest syscalls. It is required.
	Syscalls SyscallDispatcher

	// Signals delivers guest signals. If nil, NoSignals is used.
	Signals SignalDeliverer

	// Strace enables logging of every dispatched syscall.
	Strace bool

	// PassThroughLogInterval limits how often traps passed to the next
	// handler are logged. If zero, one message per second is allowed.
	PassThroughLogInterval time.Duration
}

// Kernel holds the state shared by every Task it runs.
type Kernel struct {
	// syscalls is immutable.
	syscalls SyscallDispatcher

	// signals is immutable.
	signals SignalDeliverer

	// strace is immutable.
	strace bool

	// passThroughLog is a rate limited logger for pass-through traps.
	passThroughLog log.Logger
}

// NewKernel returns a Kernel configured by args.
//
// The global logger must be configured before NewKernel is called.
func NewKernel(args InitKernelArgs) (*Kernel, error) {
	if args.Syscalls == nil {
		return nil, errors.New("kernel requires a syscall dispatcher")
	}
	k := &Kernel{
		syscalls: args.Syscalls,
		signals:  args.Signals,
		strace:   args.Strace,
	}
	if k.signals == nil {
		k.signals = NoSignals{}
	}
	interval := args.PassThroughLogInterval
	if interval <= 0 {
		interval = defaultPassThroughLogInterval
	}
	k.passThroughLog = log.BasicRateLimitedLogger(interval)
	return k, nil
}

// Syscalls returns the Kernel's syscall dispatcher.
func (k *Kernel) Syscalls() SyscallDispatcher {
	return k.syscalls
}

// syscallName returns the name of sysno for logging.
func (k *Kernel) syscallName(sysno uintptr) string {
	if n, ok := k.syscalls.(SyscallNamer); ok {
		return n.SyscallName(sysno)
	}
	return "syscall"
}
