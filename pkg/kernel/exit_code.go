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
	"gvisor.dev/gvisor/pkg/sync"
)

// ExitCode is a write-once exit code cell. The zero value is empty.
//
// ExitCode may be used concurrently: the task goroutine sets it when the
// guest exits, and other goroutines set it to kill the task.
type ExitCode struct {
	mu sync.Mutex

	// +checklocks:mu
	set bool
	// +checklocks:mu
	code int32
}

// Set stores code if the cell is empty. It returns true if code was stored;
// once the cell is set, later values are discarded.
func (e *ExitCode) Set(code int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		return false
	}
	e.set = true
	e.code = code
	return true
}

// Load returns the stored code and whether the cell has been set.
func (e *ExitCode) Load() (int32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.code, e.set
}
