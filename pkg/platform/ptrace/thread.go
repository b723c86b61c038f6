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
	"errors"
	"fmt"

	"github.com/guestrun/guestrun/pkg/arch"
	"github.com/guestrun/guestrun/pkg/platform"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
)

// thread implements platform.Thread for the single thread of a traced
// process.
type thread struct {
	p    *process
	name string

	mu sync.Mutex

	// pid is the tracee's pid, or zero before the process is started.
	//
	// +checklocks:mu
	pid int

	// +checklocks:mu
	suspendCount int

	// stopped is true while the tracee is in a ptrace stop that has not
	// been resumed.
	//
	// +checklocks:mu
	stopped bool

	// inSyscall is true while the tracee is in a syscall-enter stop.
	//
	// +checklocks:mu
	inSyscall bool

	// killed is set once SIGKILL has been sent.
	//
	// +checklocks:mu
	killed bool

	// reaped is set once the tracee's exit status has been collected. The
	// pid may be reused after that.
	//
	// +checklocks:mu
	reaped bool

	// +checklocks:mu
	ch *trapChannel
}

func (t *thread) start(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pid = pid
}

// ID implements platform.Thread.ID. It is the host pid, or zero before the
// process is started.
func (t *thread) ID() platform.ThreadID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return platform.ThreadID(t.pid)
}

// Start implements platform.Thread.Start. A traced process has no threads
// other than its first, which is started by Process.Start.
func (t *thread) Start() error {
	return unix.ENOTSUP
}

// Suspend implements platform.Thread.Suspend. A tracee can only be suspended
// before it runs or while it is stopped.
func (t *thread) Suspend() (platform.SuspendToken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pid != 0 && !t.stopped {
		return nil, unix.EBUSY
	}
	t.suspendCount++
	return &suspendToken{t: t}, nil
}

// WaitSuspended implements platform.Thread.WaitSuspended. The tracee of a new
// process stops with SIGTRAP after its execve.
func (t *thread) WaitSuspended() error {
	t.mu.Lock()
	pid, stopped := t.pid, t.stopped
	t.mu.Unlock()
	if pid == 0 {
		return unix.ESRCH
	}
	if stopped {
		return nil
	}
	ws, err := t.wait()
	if err != nil {
		return err
	}
	if !ws.Stopped() || ws.StopSignal() != unix.SIGTRAP {
		return fmt.Errorf("waiting for exec stop: %s", classifyStop(ws).status)
	}
	if err := unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACESYSGOOD|unix.PTRACE_O_EXITKILL); err != nil {
		return fmt.Errorf("PTRACE_SETOPTIONS: %w", err)
	}
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	return nil
}

// stoppedPid returns the tracee's pid if it is stopped.
func (t *thread) stoppedPid() (int, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pid == 0 || t.reaped {
		return 0, false, unix.ESRCH
	}
	if !t.stopped {
		return 0, false, unix.EBUSY
	}
	return t.pid, t.inSyscall, nil
}

// ReadRegisters implements platform.Thread.ReadRegisters.
func (t *thread) ReadRegisters(regs *arch.Registers) error {
	pid, inSyscall, err := t.stoppedPid()
	if err != nil {
		return err
	}
	var pr unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &pr); err != nil {
		return err
	}
	if inSyscall {
		updateSyscallRegs(&pr)
	}
	toRegisters(&pr, regs)
	return nil
}

// WriteRegisters implements platform.Thread.WriteRegisters.
func (t *thread) WriteRegisters(regs *arch.Registers) error {
	pid, _, err := t.stoppedPid()
	if err != nil {
		return err
	}
	var pr unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &pr); err != nil {
		return err
	}
	fromRegisters(regs, &pr)
	return unix.PtraceSetRegs(pid, &pr)
}

// CreateTrapChannel implements platform.Thread.CreateTrapChannel.
func (t *thread) CreateTrapChannel() (platform.TrapChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ch != nil {
		return nil, unix.EBUSY
	}
	t.ch = &trapChannel{t: t, closed: make(chan struct{})}
	return t.ch, nil
}

// Kill implements platform.Thread.Kill. It kills the tracee and collects its
// exit status.
func (t *thread) Kill() error {
	t.mu.Lock()
	if t.pid == 0 || t.reaped {
		t.killed = true
		t.mu.Unlock()
		return nil
	}
	pid, killed := t.pid, t.killed
	t.killed = true
	t.mu.Unlock()

	if !killed {
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
			return err
		}
	}
	return t.reap()
}

// reap waits for a killed tracee to exit.
func (t *thread) reap() error {
	for {
		ws, err := t.wait()
		if err != nil {
			return err
		}
		if ws.Exited() || ws.Signaled() {
			return nil
		}
	}
}

// Close implements platform.Thread.Close. A tracee that was killed but not
// yet reaped is reaped.
func (t *thread) Close() error {
	t.mu.Lock()
	pending := t.pid != 0 && t.killed && !t.reaped
	t.mu.Unlock()
	if pending {
		return t.reap()
	}
	return nil
}

// interrupt kills a running tracee so that a wait blocked on it returns.
func (t *thread) interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pid == 0 || t.reaped || t.killed {
		return
	}
	t.killed = true
	if err := unix.Tgkill(t.pid, t.pid, unix.SIGKILL); err != nil {
		log.Warningf("Failed to kill tracee %d: %v", t.pid, err)
	}
}

// wait waits for the tracee's next state change.
func (t *thread) wait() (unix.WaitStatus, error) {
	t.mu.Lock()
	pid := t.pid
	t.mu.Unlock()
	for {
		var ws unix.WaitStatus
		_, err := unix.Wait4(pid, &ws, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if ws.Exited() || ws.Signaled() {
			t.mu.Lock()
			t.reaped = true
			t.stopped = false
			t.mu.Unlock()
		}
		return ws, nil
	}
}

// resume continues the tracee until its next syscall or signal, delivering
// sig.
func (t *thread) resume(sig unix.Signal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pid == 0 || t.reaped {
		return unix.ESRCH
	}
	if !t.stopped {
		return unix.EBUSY
	}
	if _, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SYSEMU, uintptr(t.pid), 0, uintptr(sig), 0, 0); errno != 0 {
		return errno
	}
	t.stopped = false
	t.inSyscall = false
	return nil
}

type suspendToken struct {
	t        *thread
	released bool
}

// Release implements platform.SuspendToken.Release. The tracee resumes when
// the last token is released.
func (s *suspendToken) Release() error {
	t := s.t
	t.mu.Lock()
	if s.released {
		t.mu.Unlock()
		return errors.New("suspend token released twice")
	}
	s.released = true
	t.suspendCount--
	resume := t.suspendCount == 0 && t.stopped && !t.killed
	t.mu.Unlock()
	if resume {
		return t.resume(0)
	}
	return nil
}

// trapChannel implements platform.TrapChannel by waiting for the tracee's
// stops.
type trapChannel struct {
	t         *thread
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *trapChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Read implements platform.TrapChannel.Read.
func (c *trapChannel) Read() (*platform.Notification, error) {
	if c.isClosed() {
		return nil, platform.ErrChannelClosed
	}
	ws, err := c.t.wait()
	if c.isClosed() {
		return nil, platform.ErrChannelClosed
	}
	if err != nil {
		return nil, err
	}
	st := classifyStop(ws)
	if st.kind == stopExited {
		return nil, fmt.Errorf("%w: tracee %s", platform.ErrChannelClosed, st.status)
	}

	t := c.t
	t.mu.Lock()
	t.stopped = true
	t.inSyscall = st.kind == stopSyscall
	pid := t.pid
	t.mu.Unlock()

	if st.kind == stopSyscall {
		var pr unix.PtraceRegs
		if err := unix.PtraceGetRegs(pid, &pr); err != nil {
			return nil, fmt.Errorf("reading syscall number: %w", err)
		}
		st.report.Payload = pr.Orig_rax
	}
	return &platform.Notification{
		Thread:   platform.ThreadID(pid),
		Report:   st.report.Encode(),
		Resolver: &resolver{t: t, sig: st.signal},
	}, nil
}

// Close implements platform.TrapChannel.Close. Closing the channel of a
// running tracee kills it: a traced process cannot continue without its
// tracer.
func (c *trapChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.t.interrupt()
	})
	return nil
}

// resolver implements platform.Resolver for one stop.
type resolver struct {
	t    *thread
	sig  unix.Signal
	done bool
}

// Resolve implements platform.Resolver.Resolve.
func (r *resolver) Resolve(o platform.Outcome) error {
	if r.done {
		return errors.New("trap resolved twice")
	}
	r.done = true
	switch o {
	case platform.OutcomeHandled:
		return r.t.resume(0)
	case platform.OutcomePassToNext:
		return r.t.resume(r.sig)
	case platform.OutcomeTerminateThread:
		return r.t.Kill()
	default:
		return fmt.Errorf("unknown outcome %v", o)
	}
}
