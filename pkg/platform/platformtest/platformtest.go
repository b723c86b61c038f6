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

// Package platformtest provides an in-memory host for tests.
//
// Guest execution is scripted: each Thread holds a list of Steps, and every
// time the thread becomes runnable it consumes the next step, applies the
// step's register changes and raises the step's trap. A thread that has run
// out of steps idles until its channel is closed.
package platformtest

import (
	"fmt"

	"github.com/guestrun/guestrun/pkg/arch"
	"github.com/guestrun/guestrun/pkg/platform"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/hostarch"
	"gvisor.dev/gvisor/pkg/sync"
)

// Operation names used by the thread journal and by Thread.FailOn.
const (
	OpCreateTrapChannel = "create-trap-channel"
	OpSuspend           = "suspend"
	OpStart             = "start"
	OpWaitSuspended     = "wait-suspended"
	OpReadRegisters     = "read-registers"
	OpWriteRegisters    = "write-registers"
	OpRelease           = "release"
	OpKill              = "kill"
)

// Step is one scripted trap.
type Step struct {
	// Report is the trap raised by the step.
	Report platform.TrapReport

	// Raw, if non-nil, is delivered instead of the encoded Report.
	Raw []byte

	// Thread, if non-zero, replaces the thread identity carried by the
	// notification.
	Thread platform.ThreadID

	// Regs, if non-nil, is applied to the thread's registers before the
	// trap is raised.
	Regs func(*arch.Registers)

	// Err, if non-nil, makes the channel read fail with Err instead of
	// delivering a trap.
	Err error

	// Close closes the channel instead of raising a trap.
	Close bool
}

// Syscall returns a step in which the guest executes syscall sysno with
// args.
func Syscall(sysno uintptr, args ...uintptr) Step {
	sargs := make([]arch.SyscallArgument, len(args))
	for i, a := range args {
		sargs[i] = arch.SyscallArgument{Value: a}
	}
	return Step{
		Report: platform.TrapReport{
			Category: platform.TrapPolicyError,
			SubCode:  platform.PolicyBadSyscall,
			Payload:  uint64(sysno),
		},
		Regs: func(r *arch.Registers) {
			r.SetSyscall(sysno, sargs...)
			// The syscall instruction is two bytes long.
			r.Rip += 2
		},
	}
}

// Fault returns a step that raises a trap of category c.
func Fault(c platform.TrapCategory, subcode uint32) Step {
	return Step{Report: platform.TrapReport{Category: c, SubCode: subcode}}
}

// Job implements platform.Job.
type Job struct {
	mu sync.Mutex

	// CreateProcessErr, if set, fails CreateProcess.
	CreateProcessErr error

	// NilAddressSpace makes CreateProcess return a nil address space root.
	NilAddressSpace bool

	nextID    uint64
	processes []*Process
}

// NewJob returns an empty job.
func NewJob() *Job {
	return &Job{nextID: 1000}
}

func (j *Job) allocID() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextID++
	return j.nextID
}

// CreateProcess implements platform.Job.CreateProcess.
func (j *Job) CreateProcess(name string) (platform.Process, platform.AddressSpace, error) {
	j.mu.Lock()
	err := j.CreateProcessErr
	nilAS := j.NilAddressSpace
	j.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	p := &Process{
		job:  j,
		id:   j.allocID(),
		name: name,
		as:   NewAddressSpace(),
	}
	j.mu.Lock()
	j.processes = append(j.processes, p)
	j.mu.Unlock()
	if nilAS {
		return p, nil, nil
	}
	return p, p.as, nil
}

// Processes returns the processes created so far.
func (j *Job) Processes() []*Process {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*Process(nil), j.processes...)
}

// Process implements platform.Process.
type Process struct {
	job  *Job
	id   uint64
	name string
	as   *AddressSpace

	mu sync.Mutex

	// CreateThreadErr, if set, fails CreateThread.
	CreateThreadErr error

	// SetDebugAddrErr, if set, fails SetDebugAddr.
	SetDebugAddrErr error

	threads       []*Thread
	started       bool
	closed        bool
	debugAddr     hostarch.Addr
	debugAddrSets int
}

// ID implements platform.Process.ID.
func (p *Process) ID() uint64 {
	return p.id
}

// Name returns the name the process was created with.
func (p *Process) Name() string {
	return p.name
}

// AddressSpace returns the root of the process's address space.
func (p *Process) AddressSpace() *AddressSpace {
	return p.as
}

// CreateThread implements platform.Process.CreateThread.
func (p *Process) CreateThread(name string) (platform.Thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateThreadErr != nil {
		return nil, p.CreateThreadErr
	}
	if p.closed {
		return nil, fmt.Errorf("process %d: handle closed", p.id)
	}
	t := &Thread{
		proc: p,
		id:   platform.ThreadID(p.job.allocID()),
		name: name,
		fail: make(map[string]error),
	}
	p.threads = append(p.threads, t)
	return t, nil
}

// Threads returns the threads created in the process.
func (p *Process) Threads() []*Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Thread(nil), p.threads...)
}

// Start implements platform.Process.Start.
func (p *Process) Start(pt platform.Thread) error {
	t, ok := pt.(*Thread)
	if !ok || t.proc != p {
		return fmt.Errorf("process %d: thread %v does not belong to the process", p.id, pt.ID())
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("process %d: already started", p.id)
	}
	p.mu.Unlock()
	if err := t.start(); err != nil {
		return err
	}
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return nil
}

// Started returns true if Start succeeded.
func (p *Process) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// DebugAddr implements platform.Process.DebugAddr.
func (p *Process) DebugAddr() (hostarch.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.debugAddr, nil
}

// SetDebugAddr implements platform.Process.SetDebugAddr.
func (p *Process) SetDebugAddr(addr hostarch.Addr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SetDebugAddrErr != nil {
		return p.SetDebugAddrErr
	}
	p.debugAddr = addr
	p.debugAddrSets++
	return nil
}

// DebugAddrSets returns the number of successful SetDebugAddr calls.
func (p *Process) DebugAddrSets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.debugAddrSets
}

// Close implements platform.Process.Close.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed returns true if the handle was closed.
func (p *Process) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// AddressSpace implements platform.AddressSpace over a sparse byte map.
// Every address below the limit is mapped and reads as zero until written.
type AddressSpace struct {
	mu       sync.Mutex
	mem      map[hostarch.Addr]byte
	limit    hostarch.Addr
	released bool
}

// NewAddressSpace returns an empty address space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{mem: make(map[hostarch.Addr]byte), limit: ^hostarch.Addr(0)}
}

// Unmap makes every address at or above end fault. Copies that cross end
// transfer the bytes below it and fail with EFAULT.
func (as *AddressSpace) Unmap(end hostarch.Addr) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.limit = end
}

// mappedLocked returns how many of the n bytes at addr are mapped.
//
// Preconditions: as.mu is locked.
func (as *AddressSpace) mappedLocked(addr hostarch.Addr, n int) int {
	if addr >= as.limit {
		return 0
	}
	return int(min(uint64(n), uint64(as.limit-addr)))
}

// CopyIn implements platform.AddressSpace.CopyIn.
func (as *AddressSpace) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	n := as.mappedLocked(addr, len(dst))
	for i := range dst[:n] {
		dst[i] = as.mem[addr+hostarch.Addr(i)]
	}
	if n < len(dst) {
		return n, unix.EFAULT
	}
	return n, nil
}

// CopyOut implements platform.AddressSpace.CopyOut.
func (as *AddressSpace) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	n := as.mappedLocked(addr, len(src))
	for i, b := range src[:n] {
		as.mem[addr+hostarch.Addr(i)] = b
	}
	if n < len(src) {
		return n, unix.EFAULT
	}
	return n, nil
}

// Release implements platform.AddressSpace.Release.
func (as *AddressSpace) Release() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.released = true
}

// Released returns true if Release was called.
func (as *AddressSpace) Released() bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.released
}
