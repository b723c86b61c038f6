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
	"testing"
	"time"

	"github.com/guestrun/guestrun/pkg/arch"
	"github.com/guestrun/guestrun/pkg/platform/platformtest"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/sync"
)

// Syscall numbers understood by testDispatcher.
const (
	sysWrite     = 1
	sysYield     = 24
	sysExit      = 60
	sysExitGroup = 231
)

// call records one dispatched syscall.
type call struct {
	Sysno uintptr
	Args  arch.SyscallArguments
	Regs  arch.Registers
}

// testDispatcher implements SyscallDispatcher. exit and exit_group are built
// in; other syscalls are handled by handlers, or fail with ENOSYS.
type testDispatcher struct {
	mu       sync.Mutex
	calls    []call
	handlers map[uintptr]func(t *Task, args arch.SyscallArguments) (uintptr, error)
}

func newTestDispatcher() *testDispatcher {
	return &testDispatcher{handlers: make(map[uintptr]func(*Task, arch.SyscallArguments) (uintptr, error))}
}

func (d *testDispatcher) handle(sysno uintptr, fn func(t *Task, args arch.SyscallArguments) (uintptr, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[sysno] = fn
}

// Dispatch implements SyscallDispatcher.Dispatch.
func (d *testDispatcher) Dispatch(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	d.mu.Lock()
	d.calls = append(d.calls, call{Sysno: sysno, Args: args, Regs: *t.Registers()})
	fn := d.handlers[sysno]
	d.mu.Unlock()
	switch {
	case fn != nil:
		return fn(t, args)
	case sysno == sysExit:
		t.PrepareExit(args[0].Int())
		return 0, nil
	case sysno == sysExitGroup:
		t.PrepareGroupExit(args[0].Int())
		return 0, nil
	default:
		return 0, unix.ENOSYS
	}
}

func (d *testDispatcher) Calls() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]call(nil), d.calls...)
}

// result is what a CompletionFunc received.
type result struct {
	code int32
	err  error
}

func newTestKernel(t *testing.T, d SyscallDispatcher) *Kernel {
	t.Helper()
	k, err := NewKernel(InitKernelArgs{Syscalls: d})
	if err != nil {
		t.Fatalf("NewKernel failed: %v", err)
	}
	return k
}

// testProcess is a process created through a ProcessFactory with its leader
// Task.
type testProcess struct {
	factory *ProcessFactory
	task    *Task
	thread  *platformtest.Thread
	proc    *platformtest.Process
}

func newTestProcess(t *testing.T, k *Kernel, job *platformtest.Job, regs arch.Registers) *testProcess {
	t.Helper()
	f := NewProcessFactory(job)
	th, tg, m, err := f.CreateProcess(1, "init")
	if err != nil {
		t.Fatalf("CreateProcess failed: %v", err)
	}
	task, err := k.NewTask(&TaskConfig{
		TID:           1,
		Thread:        th,
		ThreadGroup:   tg,
		MemoryManager: m,
		Registers:     regs,
	})
	if err != nil {
		t.Fatalf("NewTask failed: %v", err)
	}
	procs := job.Processes()
	return &testProcess{
		factory: f,
		task:    task,
		thread:  th.(*platformtest.Thread),
		proc:    procs[len(procs)-1],
	}
}

// execute runs task and returns a channel that receives its result.
func execute(k *Kernel, task *Task) <-chan result {
	done := make(chan result, 1)
	k.Execute(task, func(code int32, err error) {
		done <- result{code: code, err: err}
	})
	return done
}

func wait(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(10 * time.Second):
		t.Fatalf("task did not complete")
		return result{}
	}
}

// run executes task and waits for it to complete.
func run(t *testing.T, k *Kernel, task *Task) result {
	t.Helper()
	return wait(t, execute(k, task))
}

func TestNewKernelRequiresDispatcher(t *testing.T) {
	if _, err := NewKernel(InitKernelArgs{}); err == nil {
		t.Errorf("NewKernel without a dispatcher succeeded")
	}
}

func TestNoSignals(t *testing.T) {
	k := newTestKernel(t, newTestDispatcher())
	if _, ok := k.signals.(NoSignals); !ok {
		t.Errorf("default signal deliverer is %T, want NoSignals", k.signals)
	}
}
