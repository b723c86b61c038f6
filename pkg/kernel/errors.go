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

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/abi/linux/errno"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
)

var (
	// ErrResourceCreationFailed is returned when the host refuses to create
	// a process, thread or address space.
	ErrResourceCreationFailed = errors.New("resource creation failed")

	// ErrThreadStartFailed is returned when a task's host thread could not
	// be bootstrapped. The guest never ran.
	ErrThreadStartFailed = errors.New("thread start failed")

	// ErrTrapChannelFault is returned when a task's trap channel fails or
	// closes while the task is still running.
	ErrTrapChannelFault = errors.New("trap channel fault")

	// ErrUnexpectedTrapShape is returned when a trap cannot belong to the
	// task whose loop read it.
	ErrUnexpectedTrapShape = errors.New("unexpected trap shape")

	// ErrHostFault is returned when a host call on a trapped thread fails.
	ErrHostFault = errors.New("host call failed")

	// ErrTaskPanicked is returned when the task goroutine panics. If the
	// panic value is an error, it is wrapped as well.
	ErrTaskPanicked = errors.New("task goroutine panicked")
)

// CreationError is returned by ProcessFactory. It matches
// ErrResourceCreationFailed and the underlying host error.
type CreationError struct {
	// Op is the host operation that failed.
	Op string

	// Name is the name of the process being created or extended.
	Name string

	// Err is the host error.
	Err error
}

// Error implements error.Error.
func (e *CreationError) Error() string {
	return fmt.Sprintf("%v: %s for %q: %v", ErrResourceCreationFailed, e.Op, e.Name, e.Err)
}

// Unwrap supports errors.Is and errors.As.
func (e *CreationError) Unwrap() []error {
	return []error{ErrResourceCreationFailed, e.Err}
}

// Errno returns the guest errno to report for the failure. Host errors
// without an errno are reported as EAGAIN, the errno for exhausted
// resources.
func (e *CreationError) Errno() unix.Errno {
	if en, ok := ExtractErrno(e.Err); ok {
		return en
	}
	return unix.EAGAIN
}

// UnexpectedTrapError is the panic value raised when a task's loop reads a
// trap raised by another thread.
type UnexpectedTrapError struct {
	// Task is the thread the loop drives.
	Task uint64

	// Trap is the thread named by the notification.
	Trap uint64
}

// Error implements error.Error.
func (e *UnexpectedTrapError) Error() string {
	return fmt.Sprintf("%v: trap raised by thread %d delivered to loop of thread %d", ErrUnexpectedTrapShape, e.Trap, e.Task)
}

// Unwrap supports errors.Is.
func (e *UnexpectedTrapError) Unwrap() error {
	return ErrUnexpectedTrapShape
}

// ExtractErrno returns the errno carried by err. It understands host errnos
// (unix.Errno), guest errnos (linuxerr) and errors registered with
// linuxerr.AddErrorUnwrapper.
func ExtractErrno(err error) (unix.Errno, bool) {
	if err == nil {
		return 0, false
	}
	var ue unix.Errno
	if errors.As(err, &ue) {
		return ue, true
	}
	var ge interface{ Errno() errno.Errno }
	if errors.As(err, &ge) {
		return unix.Errno(ge.Errno()), true
	}
	if e, ok := linuxerr.TranslateError(err); ok {
		return linuxerr.ToUnix(e), true
	}
	return 0, false
}
