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
	"runtime"
	"runtime/debug"

	"gvisor.dev/gvisor/pkg/goid"
)

// CompletionFunc receives the outcome of a task: the guest exit code, or the
// error that stopped the task. code is meaningful only if err is nil.
type CompletionFunc func(code int32, err error)

// Execute runs t on a new task goroutine and returns immediately.
//
// The task goroutine is locked to its own OS thread for its whole lifetime.
// It starts t's host thread, handles its traps until t exits and then calls
// onComplete exactly once. A panic on the task goroutine is reported to
// onComplete as an error.
//
// Preconditions: t was created by k.NewTask and has not been executed.
func (k *Kernel) Execute(t *Task, onComplete CompletionFunc) {
	if t.k != k {
		panic(fmt.Sprintf("task %d belongs to another kernel", t.tid))
	}
	if t.started.Swap(true) {
		panic(fmt.Sprintf("task %d executed twice", t.tid))
	}
	go t.run(onComplete)
}

// run is the body of the task goroutine.
func (t *Task) run(onComplete CompletionFunc) {
	// The goroutine never unlocks its OS thread. Hosts such as ptrace bind
	// the host thread to the OS thread that started it, and the Go runtime
	// terminates a locked OS thread when its goroutine exits.
	runtime.LockOSThread()
	t.goid.Store(goid.Get())

	var (
		code int32
		err  error
	)
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
			t.Warningf("Task goroutine panicked: %v\n%s", r, debug.Stack())
		}
		t.release()
		t.goid.Store(0)
		onComplete(code, err)
	}()

	ch, err := t.startThread()
	if err != nil {
		t.Warningf("Failed to start: %v", err)
		return
	}
	t.setTrapChannel(ch)
	defer func() {
		if cerr := ch.Close(); cerr != nil {
			t.Warningf("Closing trap channel: %v", cerr)
		}
	}()
	code, err = t.runTrapLoop(ch)
}

// panicError converts a recovered panic value to an error. Error values are
// wrapped so that errors.Is sees through them.
func panicError(r any) error {
	if e, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrTaskPanicked, e)
	}
	return fmt.Errorf("%w: %v", ErrTaskPanicked, r)
}
