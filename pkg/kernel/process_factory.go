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
	"github.com/guestrun/guestrun/pkg/mm"
	"github.com/guestrun/guestrun/pkg/platform"
	"gvisor.dev/gvisor/pkg/cleanup"
	"gvisor.dev/gvisor/pkg/log"
)

// ProcessFactory creates the host resources that back new Tasks.
type ProcessFactory struct {
	// job contains every process created by the factory. It is immutable.
	job platform.Job
}

// NewProcessFactory returns a ProcessFactory that creates processes in job.
func NewProcessFactory(job platform.Job) *ProcessFactory {
	return &ProcessFactory{job: job}
}

// CreateProcess creates a new host process named name and returns its first
// thread, a new ThreadGroup with guest process ID pid owning the process, and
// a MemoryManager bound to the process's address space. The caller receives
// one reference on each; they are normally passed to Kernel.NewTask.
//
// The process is not started. It starts when its first Task is executed.
func (f *ProcessFactory) CreateProcess(pid ThreadID, name string) (platform.Thread, *ThreadGroup, *mm.MemoryManager, error) {
	proc, root, err := f.job.CreateProcess(name)
	if err != nil {
		return nil, nil, nil, &CreationError{Op: "creating process", Name: name, Err: err}
	}
	cu := cleanup.Make(func() {
		if err := proc.Close(); err != nil {
			log.Warningf("Closing process %q: %v", name, err)
		}
	})
	defer cu.Clean()

	m, err := mm.New(root)
	if err != nil {
		return nil, nil, nil, &CreationError{Op: "creating memory manager", Name: name, Err: err}
	}
	cu.Add(m.DecRef)

	thread, err := proc.CreateThread(name)
	if err != nil {
		return nil, nil, nil, &CreationError{Op: "creating initial thread", Name: name, Err: err}
	}

	cu.Release()
	log.Debugf("Created process %d (%q) for guest pid %d", proc.ID(), name, pid)
	return thread, newThreadGroup(pid, name, proc), m, nil
}

// CreateThread creates a new host thread in parent's process. It returns the
// thread with parent's ThreadGroup and MemoryManager, on each of which the
// caller receives a new reference.
func (f *ProcessFactory) CreateThread(parent *Task) (platform.Thread, *ThreadGroup, *mm.MemoryManager, error) {
	tg := parent.ThreadGroup()
	thread, err := tg.process.CreateThread(tg.name)
	if err != nil {
		return nil, nil, nil, &CreationError{Op: "creating thread", Name: tg.name, Err: err}
	}
	tg.IncRef()
	parent.mm.IncRef()
	return thread, tg, parent.mm, nil
}
