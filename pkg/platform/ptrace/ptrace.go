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

// Package ptrace implements a host for guest tasks on Linux using ptrace.
//
// Each guest process is a host process started from an executable under
// PTRACE_TRACEME and resumed with PTRACE_SYSEMU, so that every syscall it
// makes stops it before the host kernel executes the syscall. Syscall stops
// are reported as bad-syscall policy traps; signal stops are reported as
// the matching fault traps.
//
// All ptrace requests for a process must be issued from the OS thread that
// started it. The kernel's task goroutines are locked to their OS threads,
// and every Thread method except the trap channel's Close is called from the
// owning task goroutine.
//
// Guest processes have a single thread: the host executable owns its own
// threads, and threads cannot be added from the engine side.
package ptrace

import (
	"fmt"
	"os"
	"syscall"

	"github.com/guestrun/guestrun/pkg/platform"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/cleanup"
	"gvisor.dev/gvisor/pkg/hostarch"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
)

// Job starts guest processes from an executable.
type Job struct {
	// Path is the executable.
	Path string

	// Argv is the guest argument vector, including argv[0].
	Argv []string

	// Env is the guest environment.
	Env []string

	// Files are the guest's initial file descriptors 0, 1 and 2. Nil
	// entries are bound to /dev/null.
	Files []*os.File
}

// CreateProcess implements platform.Job.CreateProcess.
func (j *Job) CreateProcess(name string) (platform.Process, platform.AddressSpace, error) {
	if j.Path == "" {
		return nil, nil, unix.ENOENT
	}
	p := &process{job: j, name: name}
	return p, &addressSpace{p: p}, nil
}

// process implements platform.Process.
type process struct {
	job  *Job
	name string

	mu sync.Mutex

	// +checklocks:mu
	proc *os.Process
	// +checklocks:mu
	thread *thread
	// +checklocks:mu
	debugAddr hostarch.Addr
	// +checklocks:mu
	closed bool
}

// pid returns the host pid, or zero if the process has not been started.
func (p *process) pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil {
		return 0
	}
	return p.proc.Pid
}

// ID implements platform.Process.ID.
func (p *process) ID() uint64 {
	return uint64(p.pid())
}

// CreateThread implements platform.Process.CreateThread. Only the initial
// thread can be created.
func (p *process) CreateThread(name string) (platform.Thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, unix.EBADF
	}
	if p.thread != nil {
		return nil, unix.ENOTSUP
	}
	p.thread = &thread{p: p, name: name}
	return p.thread, nil
}

// Start implements platform.Process.Start.
//
// Preconditions: The calling goroutine is locked to its OS thread, and every
// later ptrace request for the process is issued from that OS thread.
func (p *process) Start(pt platform.Thread) error {
	t, ok := pt.(*thread)
	if !ok || t.p != p {
		return fmt.Errorf("thread %v does not belong to process %q", pt.ID(), p.name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc != nil {
		return unix.EBUSY
	}
	var cu cleanup.Cleanup
	defer cu.Clean()
	files := make([]*os.File, 3)
	copy(files, p.job.Files)
	for i, f := range files {
		if f == nil {
			null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
			if err != nil {
				return err
			}
			cu.Add(func() { null.Close() })
			files[i] = null
		}
	}
	proc, err := os.StartProcess(p.job.Path, p.job.Argv, &os.ProcAttr{
		Env:   p.job.Env,
		Files: files,
		Sys: &syscall.SysProcAttr{
			Ptrace:    true,
			Pdeathsig: syscall.SIGKILL,
		},
	})
	if err != nil {
		return err
	}
	p.proc = proc
	t.start(proc.Pid)
	log.Debugf("Started %q as host pid %d", p.job.Path, proc.Pid)
	return nil
}

// DebugAddr implements platform.Process.DebugAddr.
func (p *process) DebugAddr() (hostarch.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.debugAddr, nil
}

// SetDebugAddr implements platform.Process.SetDebugAddr. Linux has no
// host-side registration; the address is kept for host tools to query.
func (p *process) SetDebugAddr(addr hostarch.Addr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.debugAddr = addr
	return nil
}

// Close implements platform.Process.Close.
func (p *process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.proc != nil {
		return p.proc.Release()
	}
	return nil
}

// addressSpace implements platform.AddressSpace with process_vm_readv(2)
// and process_vm_writev(2).
type addressSpace struct {
	p *process
}

// CopyIn implements platform.AddressSpace.CopyIn.
func (as *addressSpace) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	pid := as.p.pid()
	if pid == 0 {
		return 0, unix.ESRCH
	}
	local := []unix.Iovec{{Base: &dst[0]}}
	local[0].SetLen(len(dst))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(dst)}}
	n, err := unix.ProcessVMReadv(pid, local, remote, 0)
	if err != nil {
		return max(n, 0), err
	}
	if n < len(dst) {
		return n, unix.EFAULT
	}
	return n, nil
}

// CopyOut implements platform.AddressSpace.CopyOut.
func (as *addressSpace) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	pid := as.p.pid()
	if pid == 0 {
		return 0, unix.ESRCH
	}
	local := []unix.Iovec{{Base: &src[0]}}
	local[0].SetLen(len(src))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(src)}}
	n, err := unix.ProcessVMWritev(pid, local, remote, 0)
	if err != nil {
		return max(n, 0), err
	}
	if n < len(src) {
		return n, unix.EFAULT
	}
	return n, nil
}

// Release implements platform.AddressSpace.Release.
func (as *addressSpace) Release() {}
