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
	"fmt"

	"github.com/guestrun/guestrun/pkg/platform"
	"golang.org/x/sys/unix"
)

// A trapState is a step in the trap loop.
//
// The trap loop is a state machine. Each state does the work it represents
// and returns the next state; a nil state ends the loop. States that carry no
// data are represented by typed nil pointers, e.g. (*awaitTrap)(nil).
type trapState interface {
	execute(*trapLoop) trapState
}

// trapLoop holds the state of one run of the trap loop.
type trapLoop struct {
	t  *Task
	ch platform.TrapChannel

	// code and err are the loop's result. At most one is meaningful: err is
	// set if the loop ended in a fatal error, and code otherwise.
	code int32
	err  error
}

// runTrapLoop handles t's traps until t exits or its host thread can no
// longer be observed.
//
// Preconditions: The caller must be running on the task goroutine. t's host
// thread has been started by startThread.
func (t *Task) runTrapLoop(ch platform.TrapChannel) (int32, error) {
	l := &trapLoop{t: t, ch: ch}
	var s trapState = (*awaitTrap)(nil)
	for s != nil {
		t.assertTaskGoroutine()
		s = s.execute(l)
	}
	return l.code, l.err
}

// awaitTrap blocks until the host thread traps.
type awaitTrap struct{}

func (*awaitTrap) execute(l *trapLoop) trapState {
	t := l.t
	if code, ok := t.exitCode.Load(); ok {
		return &exitTask{code: code}
	}
	n, err := l.ch.Read()
	if err != nil {
		// Task.Kill closes the channel after setting the exit code.
		if code, ok := t.exitCode.Load(); ok {
			return &exitTask{code: code}
		}
		return &trapFatal{err: fmt.Errorf("%w: %w", ErrTrapChannelFault, err)}
	}
	return &decodeTrap{n: n}
}

// decodeTrap classifies a trap and, for syscalls, captures the trapped
// register state.
type decodeTrap struct {
	n *platform.Notification
}

func (s *decodeTrap) execute(l *trapLoop) trapState {
	t := l.t
	if s.n.Thread != t.thread.ID() {
		panic(&UnexpectedTrapError{Task: uint64(t.thread.ID()), Trap: uint64(s.n.Thread)})
	}
	report, err := platform.ParseTrapReport(s.n.Report)
	if err != nil {
		return &trapFatal{err: fmt.Errorf("%w: %w", ErrUnexpectedTrapShape, err)}
	}
	if !report.IsBadSyscall() {
		return &passTrap{n: s.n, report: report}
	}
	if err := t.thread.ReadRegisters(&t.regs); err != nil {
		return &trapFatal{err: fmt.Errorf("%w: reading registers: %w", ErrHostFault, err)}
	}
	return &dispatchSyscall{n: s.n, sysno: uintptr(report.Payload)}
}

// passTrap hands a trap that is not a guest syscall to the next handler.
type passTrap struct {
	n      *platform.Notification
	report platform.TrapReport
}

func (s *passTrap) execute(l *trapLoop) trapState {
	t := l.t
	t.passThroughs.Add(1)
	t.k.passThroughLog.Infof("%sPassing %v to the next handler", t.logPrefix, s.report)
	if err := s.n.Resolve(platform.OutcomePassToNext); err != nil {
		return t.hostFailed(fmt.Errorf("%w: resolving %v: %w", ErrHostFault, s.report, err))
	}
	return (*awaitTrap)(nil)
}

// dispatchSyscall executes a guest syscall and stores its result.
type dispatchSyscall struct {
	n     *platform.Notification
	sysno uintptr
}

func (s *dispatchSyscall) execute(l *trapLoop) trapState {
	t := l.t
	t.syscalls.Add(1)
	args := t.regs.SyscallArgs()
	rval, err := t.k.syscalls.Dispatch(t, s.sysno, args)
	if err != nil {
		t.regs.SetErrno(uintptr(t.syscallErrno(s.sysno, err)))
	} else {
		t.regs.SetReturn(rval)
	}
	if t.k.strace {
		t.straceExit(s.sysno, args, rval, err)
	}

	t.k.signals.DequeueSignal(t)

	if err := t.setProcessDebugAddr(); err != nil {
		return &trapFatal{err: fmt.Errorf("%w: registering debug address: %w", ErrHostFault, err)}
	}

	if code, ok := t.exitCode.Load(); ok {
		return &exitTask{n: s.n, code: code}
	}
	return &resumeTask{n: s.n}
}

// syscallErrno returns the errno reported to the guest for a failed
// syscall.
func (t *Task) syscallErrno(sysno uintptr, err error) unix.Errno {
	if errno, ok := ExtractErrno(err); ok && errno != 0 {
		return errno
	}
	t.Warningf("Syscall %d returned error with no errno: %v; reporting EINVAL", sysno, err)
	return unix.EINVAL
}

// resumeTask writes the register state back and resumes the host thread.
type resumeTask struct {
	n *platform.Notification
}

func (s *resumeTask) execute(l *trapLoop) trapState {
	t := l.t
	if err := t.thread.WriteRegisters(&t.regs); err != nil {
		return t.hostFailed(fmt.Errorf("%w: writing registers: %w", ErrHostFault, err))
	}
	if err := s.n.Resolve(platform.OutcomeHandled); err != nil {
		return t.hostFailed(fmt.Errorf("%w: resuming thread: %w", ErrHostFault, err))
	}
	return (*awaitTrap)(nil)
}

// hostFailed returns the state following a failed host call on a stopped
// thread. A Kill from another goroutine tears the host thread down under
// the loop, so once an exit code is set the failure is the exit and not a
// fault.
func (t *Task) hostFailed(err error) trapState {
	if code, ok := t.exitCode.Load(); ok {
		t.Debugf("Ignoring host failure after exit with code %d: %v", code, err)
		return &exitTask{code: code}
	}
	return &trapFatal{err: err}
}

// exitTask terminates the host thread.
type exitTask struct {
	// n is the trap the thread is stopped in, or nil if no trap is
	// outstanding.
	n    *platform.Notification
	code int32
}

func (s *exitTask) execute(l *trapLoop) trapState {
	t := l.t
	if s.n != nil {
		if err := s.n.Resolve(platform.OutcomeTerminateThread); err != nil {
			t.Warningf("Terminating thread: %v", err)
		}
	} else if err := t.thread.Kill(); err != nil {
		t.Warningf("Killing thread: %v", err)
	}
	t.Debugf("Exited with code %d after %d syscalls and %d pass-through traps", s.code, t.syscalls.Load(), t.passThroughs.Load())
	l.code = s.code
	return nil
}

// trapFatal ends the loop with an error. It makes no host calls: the host
// thread can no longer be trusted to respond.
type trapFatal struct {
	err error
}

func (s *trapFatal) execute(l *trapLoop) trapState {
	l.t.Warningf("Trap loop failed: %v", s.err)
	l.err = s.err
	return nil
}
