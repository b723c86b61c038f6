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
	"gvisor.dev/gvisor/pkg/atomicbitops"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
)

// ThreadID is a guest thread or process identifier.
type ThreadID int32

// A ThreadGroup is the set of Tasks that share a host process, the guest
// analogue of a Linux thread group.
//
// A ThreadGroup owns its process handle. It is reference counted; each Task
// in the group holds one reference and the process handle is closed when the
// last reference is dropped.
type ThreadGroup struct {
	// id is the guest process identifier. It is immutable.
	id ThreadID

	// name is the process name. It is immutable.
	name string

	// process is the host process. It is immutable.
	process platform.Process

	refs atomicbitops.Int64

	mu sync.Mutex

	// leader is the first Task added to the group. It is nil until then.
	//
	// +checklocks:mu
	leader *Task

	// tasks is the set of live Tasks in the group.
	//
	// +checklocks:mu
	tasks map[*Task]struct{}
}

// newThreadGroup returns a ThreadGroup owning process, holding one
// reference.
func newThreadGroup(id ThreadID, name string, process platform.Process) *ThreadGroup {
	return &ThreadGroup{
		id:      id,
		name:    name,
		process: process,
		refs:    atomicbitops.FromInt64(1),
		tasks:   make(map[*Task]struct{}),
	}
}

// ID returns the guest process identifier.
func (tg *ThreadGroup) ID() ThreadID {
	return tg.id
}

// Name returns the process name.
func (tg *ThreadGroup) Name() string {
	return tg.name
}

// Process returns the host process.
func (tg *ThreadGroup) Process() platform.Process {
	return tg.process
}

// IncRef takes a reference on tg.
func (tg *ThreadGroup) IncRef() {
	if v := tg.refs.Add(1); v <= 1 {
		panic(fmt.Sprintf("ThreadGroup.IncRef on destroyed thread group %d (refs=%d)", tg.id, v))
	}
}

// DecRef drops a reference on tg. The host process handle is closed with the
// last reference.
func (tg *ThreadGroup) DecRef() {
	switch v := tg.refs.Add(-1); {
	case v < 0:
		panic(fmt.Sprintf("ThreadGroup.DecRef: thread group %d has negative refcount %d", tg.id, v))
	case v == 0:
		if err := tg.process.Close(); err != nil {
			log.Warningf("Closing process %d of thread group %d: %v", tg.process.ID(), tg.id, err)
		}
	}
}

// ReadRefs returns the current number of references.
func (tg *ThreadGroup) ReadRefs() int64 {
	return tg.refs.Load()
}

// Leader returns tg's leader, or nil if no Task has been added yet.
func (tg *ThreadGroup) Leader() *Task {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.leader
}

// Count returns the number of live Tasks in tg.
func (tg *ThreadGroup) Count() int {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return len(tg.tasks)
}

// addTask adds t to tg. The first Task added becomes the leader.
func (tg *ThreadGroup) addTask(t *Task) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if tg.leader == nil {
		tg.leader = t
	}
	tg.tasks[t] = struct{}{}
}

// removeTask removes t from tg.
func (tg *ThreadGroup) removeTask(t *Task) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	delete(tg.tasks, t)
}

// exitGroup makes every Task in tg exit with code. The calling Task's exit
// code is set directly; the others are killed.
func (tg *ThreadGroup) exitGroup(caller *Task, code int32) {
	tg.mu.Lock()
	others := make([]*Task, 0, len(tg.tasks))
	for t := range tg.tasks {
		if t != caller {
			others = append(others, t)
		}
	}
	tg.mu.Unlock()

	caller.PrepareExit(code)
	for _, t := range others {
		t.Kill(code)
	}
}
