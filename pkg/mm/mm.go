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

// Package mm provides the memory manager shared by the tasks of a thread
// group.
//
// The memory manager owns the root of a process's address space. Syscall
// implementations use it to move data in and out of guest memory; it
// serializes its own state, so it may be used concurrently by sibling tasks.
package mm

import (
	"errors"
	"fmt"

	"github.com/guestrun/guestrun/pkg/platform"
	"gvisor.dev/gvisor/pkg/atomicbitops"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/pkg/hostarch"
	"gvisor.dev/gvisor/pkg/sync"
)

// ErrNoAddressSpace is returned by New when no address space root is given.
var ErrNoAddressSpace = errors.New("no address space root")

// MemoryManager implements guest memory access for a thread group.
type MemoryManager struct {
	// as is the address space root. It is immutable.
	as platform.AddressSpace

	refs atomicbitops.Int64

	mu sync.Mutex

	// debugAddr is the address that debuggers attached to the process use
	// to find loaded modules. It is set by the image loader; zero means
	// unset.
	//
	// +checklocks:mu
	debugAddr hostarch.Addr
}

// New returns a MemoryManager bound to root, holding one reference.
func New(root platform.AddressSpace) (*MemoryManager, error) {
	if root == nil {
		return nil, ErrNoAddressSpace
	}
	return &MemoryManager{
		as:   root,
		refs: atomicbitops.FromInt64(1),
	}, nil
}

// AddressSpace returns the address space root.
func (mm *MemoryManager) AddressSpace() platform.AddressSpace {
	return mm.as
}

// IncRef takes a reference on mm.
func (mm *MemoryManager) IncRef() {
	if v := mm.refs.Add(1); v <= 1 {
		panic(fmt.Sprintf("MemoryManager.IncRef on released memory manager (refs=%d)", v))
	}
}

// DecRef drops a reference on mm. The address space root is released with
// the last reference.
func (mm *MemoryManager) DecRef() {
	switch v := mm.refs.Add(-1); {
	case v < 0:
		panic(fmt.Sprintf("MemoryManager.DecRef: negative refcount %d", v))
	case v == 0:
		mm.as.Release()
	}
}

// ReadRefs returns the current number of references.
func (mm *MemoryManager) ReadRefs() int64 {
	return mm.refs.Load()
}

// DebugAddr returns the debugger rendezvous address, or zero.
func (mm *MemoryManager) DebugAddr() hostarch.Addr {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.debugAddr
}

// SetDebugAddr records the debugger rendezvous address. It is called by
// the external loader that maps the guest image. The kernel only reads the
// address and publishes it on the host process after a syscall.
func (mm *MemoryManager) SetDebugAddr(addr hostarch.Addr) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.debugAddr = addr
}

// CopyIn copies len(dst) bytes of guest memory at addr into dst.
func (mm *MemoryManager) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	if _, ok := addr.AddLength(uint64(len(dst))); !ok {
		return 0, linuxerr.EFAULT
	}
	if len(dst) == 0 {
		return 0, nil
	}
	return mm.as.CopyIn(addr, dst)
}

// CopyOut copies src into guest memory at addr.
func (mm *MemoryManager) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	if _, ok := addr.AddLength(uint64(len(src))); !ok {
		return 0, linuxerr.EFAULT
	}
	if len(src) == 0 {
		return 0, nil
	}
	return mm.as.CopyOut(addr, src)
}
