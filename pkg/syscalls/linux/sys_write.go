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


package linux

import (
	"io"

	"github.com/guestrun/guestrun/pkg/arch"
	"github.com/guestrun/guestrun/pkg/kernel"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/pkg/hostarch"
)

// writeChunk is the amount of guest memory copied per host write.
const writeChunk = 4096

// maxRWCount is the largest count accepted by write, as MAX_RW_COUNT in
// Linux.
const maxRWCount = 0x7ffff000

// Write implements Linux syscall write(2) for the standard output and error
// streams.
func (s *streams) Write(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	var w io.Writer
	switch fd {
	case 1:
		w = s.stdout
	case 2:
		w = s.stderr
	default:
		return 0, linuxerr.EBADF
	}
	if int(size) < 0 {
		return 0, linuxerr.EINVAL
	}
	if size > maxRWCount {
		size = maxRWCount
	}
	if _, ok := addr.AddLength(uint64(size)); !ok {
		return 0, linuxerr.EFAULT
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, min(size, writeChunk))
	var done uint
	for done < size {
		n := min(size-done, uint(len(buf)))
		// Bytes copied before a fault are still written.
		copied, cerr := t.MemoryManager().CopyIn(addr+hostarch.Addr(done), buf[:n])
		if copied > 0 {
			m, err := w.Write(buf[:copied])
			done += uint(m)
			if err != nil {
				return partial(done, linuxerr.EIO)
			}
		}
		if cerr != nil {
			return partial(done, linuxerr.EFAULT)
		}
	}
	return uintptr(done), nil
}

// partial returns the result of an I/O syscall that failed with err after
// transferring n bytes. As in Linux, the error is reported only if nothing
// was transferred.
func partial(n uint, err error) (uintptr, error) {
	if n > 0 {
		return uintptr(n), nil
	}
	return 0, err
}
