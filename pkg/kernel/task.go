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
	"errors"
	"fmt"

	"github.com/guestrun/guestrun/pkg/arch"
	"github.com/guestrun/guestrun/pkg/mm"
	"github.com/guestrun/guestrun/pkg/platform"
	"gvisor.dev/gvisor/pkg/atomicbitops"
	"gvisor.dev/gvisor/pkg/goid"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
)

// Task represents a guest thread.
//
// A Task owns its host thread handle and holds one reference on its
// ThreadGroup and one on its MemoryManager. Those are dropped when the task
// goroutine exits.
type Task struct {
	k *Kernel

	// tid is the guest thread ID. It is immutable.
	tid ThreadID

	// thread is the host thread. It is immutable.
	thread platform.Thread

	// tg is the task's thread group. It is immutable.
	tg *ThreadGroup

	// mm is the task's memory manager. It is immutable.
	mm *mm.MemoryManager

	// regs is the guest register state. It is authoritative only while the
	// host thread is stopped in a trap (or before it starts), and is
	// accessed exclusively by the task goroutine once the task is running.
	regs arch.Registers

	// seedRegisters causes the bootstrap to read the host thread's initial
	// registers instead of writing regs. It is immutable.
	seedRegisters bool

	// exitCode is set when the task should exit.
	exitCode ExitCode

	// goid is the ID of the task goroutine, or zero before it starts.
	goid atomicbitops.Int64

	// started is set by the first call to Kernel.Execute.
	started atomicbitops.Bool

	// logPrefix is prepended to log messages about the task. It is
	// immutable.
	logPrefix string

	// syscalls and passThroughs count the traps handled by the task.
	syscalls     atomicbitops.Uint64
	passThroughs atomicbitops.Uint64

	mu sync.Mutex

	// ch is the host thread's trap channel. It is nil until the task's
	// host thread has been bootstrapped.
	//
	// +checklocks:mu
	ch platform.TrapChannel
}

// TaskConfig defines the configuration of a new Task.
type TaskConfig struct {
	// TID is the guest thread ID.
	TID ThreadID

	// Thread is the host thread. Ownership is transferred to the new Task.
	Thread platform.Thread

	// ThreadGroup is the new Task's thread group. A reference on it is
	// transferred to the new Task.
	ThreadGroup *ThreadGroup

	// MemoryManager is the new Task's memory manager. A reference on it is
	// transferred to the new Task.
	MemoryManager *mm.MemoryManager

	// Registers is the guest register state the host thread starts with.
	Registers arch.Registers

	// SeedRegistersFromHost starts the host thread with the register state
	// the host gave it, and copies that state into the Task instead of
	// writing Registers. It is used with hosts that load the guest image
	// themselves.
	SeedRegistersFromHost bool
}

// NewTask creates a new Task from cfg.
//
// Ownership of cfg.Thread and of the references on cfg.ThreadGroup and
// cfg.MemoryManager is transferred to NewTask whether or not it succeeds.
// The returned Task does not run until it is passed to Kernel.Execute.
func (k *Kernel) NewTask(cfg *TaskConfig) (*Task, error) {
	if cfg.Thread == nil || cfg.ThreadGroup == nil || cfg.MemoryManager == nil {
		if cfg.Thread != nil {
			cfg.Thread.Close()
		}
		if cfg.ThreadGroup != nil {
			cfg.ThreadGroup.DecRef()
		}
		if cfg.MemoryManager != nil {
			cfg.MemoryManager.DecRef()
		}
		return nil, errors.New("task requires a thread, thread group and memory manager")
	}
	t := &Task{
		k:             k,
		tid:           cfg.TID,
		thread:        cfg.Thread,
		tg:            cfg.ThreadGroup,
		mm:            cfg.MemoryManager,
		regs:          cfg.Registers,
		seedRegisters: cfg.SeedRegistersFromHost,
		logPrefix:     fmt.Sprintf("[% 4d:% 4d] ", cfg.ThreadGroup.ID(), cfg.TID),
	}
	t.tg.addTask(t)
	return t, nil
}

// Kernel returns the Kernel running t.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// ThreadID returns t's guest thread ID.
func (t *Task) ThreadID() ThreadID {
	return t.tid
}

// ThreadGroup returns t's thread group.
func (t *Task) ThreadGroup() *ThreadGroup {
	return t.tg
}

// MemoryManager returns t's memory manager.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.mm
}

// HostThread returns t's host thread.
func (t *Task) HostThread() platform.Thread {
	return t.thread
}

// IsLeader returns true if t is its thread group's leader.
func (t *Task) IsLeader() bool {
	return t.tg.Leader() == t
}

// Registers returns t's register state.
//
// Preconditions: The caller must be running on the task goroutine, or t's
// task goroutine must not have started.
func (t *Task) Registers() *arch.Registers {
	return &t.regs
}

// PrepareExit sets t's exit code if it is not already set. The task exits
// once the current trap has been handled.
//
// Preconditions: The caller must be running on the task goroutine.
func (t *Task) PrepareExit(code int32) {
	t.assertTaskGoroutine()
	if !t.exitCode.Set(code) {
		t.Debugf("Exit code already set; discarding %d", code)
	}
}

// PrepareGroupExit makes every task in t's thread group exit with code.
//
// Preconditions: The caller must be running on the task goroutine.
func (t *Task) PrepareGroupExit(code int32) {
	t.tg.exitGroup(t, code)
}

// ExitCode returns t's exit code and whether it has been set.
func (t *Task) ExitCode() (int32, bool) {
	return t.exitCode.Load()
}

// Kill makes t exit with code. It may be called from any goroutine.
//
// If t's exit code is already set, code is discarded. Kill returns true if
// code was stored.
func (t *Task) Kill(code int32) bool {
	set := t.exitCode.Set(code)
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	// If the channel doesn't exist yet, the trap loop observes the exit code
	// before its first read.
	if ch != nil {
		if err := ch.Close(); err != nil {
			t.Warningf("Closing trap channel: %v", err)
		}
	}
	return set
}

// setTrapChannel records the channel created by the bootstrap.
func (t *Task) setTrapChannel(ch platform.TrapChannel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ch = ch
}

// release drops everything t owns.
func (t *Task) release() {
	if err := t.thread.Close(); err != nil {
		t.Warningf("Closing host thread %d: %v", t.thread.ID(), err)
	}
	t.tg.removeTask(t)
	t.tg.DecRef()
	t.mm.DecRef()
}

// assertTaskGoroutine panics if the caller is not running on t's task
// goroutine.
func (t *Task) assertTaskGoroutine() {
	if got, want := goid.Get(), t.goid.Load(); got != want {
		panic(fmt.Sprintf("running on goroutine %d (task goroutine for kernel.Task %p is %d)", got, t, want))
	}
}

// GoroutineID returns the ID of t's task goroutine.
func (t *Task) GoroutineID() int64 {
	return t.goid.Load()
}

// Debugf creates a debug log that includes the task ID.
func (t *Task) Debugf(fmt string, v ...any) {
	if log.IsLogging(log.Debug) {
		log.Debugf(t.logPrefix+fmt, v...)
	}
}

// Infof logs a formatted info message that includes the task ID.
func (t *Task) Infof(fmt string, v ...any) {
	if log.IsLogging(log.Info) {
		log.Infof(t.logPrefix+fmt, v...)
	}
}

// Warningf logs a formatted warning message that includes the task ID.
func (t *Task) Warningf(fmt string, v ...any) {
	if log.IsLogging(log.Warning) {
		log.Warningf(t.logPrefix+fmt, v...)
	}
}
