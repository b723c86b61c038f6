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


//go:build linux && amd64

package ptrace

import (
	"fmt"

	"github.com/guestrun/guestrun/pkg/platform"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/abi/linux"
)

// pageFaultSignals are the signals reported as page faults.
var pageFaultSignals = linux.MakeSignalSet(linux.SIGSEGV, linux.SIGBUS)

// stopKind is the kind of event reported by wait4(2) for a tracee.
type stopKind int

const (
	// stopExited means the tracee is gone.
	stopExited stopKind = iota

	// stopSyscall is a PTRACE_SYSEMU syscall-enter stop.
	stopSyscall

	// stopEvent is a ptrace event stop, e.g. exec.
	stopEvent

	// stopSignal is a signal-delivery stop.
	stopSignal
)

// stop is a decoded wait status.
type stop struct {
	kind stopKind

	// signal is the signal to inject when the stop is passed to the next
	// handler. It is zero for stops that carry no signal.
	signal unix.Signal

	// report is the trap reported for the stop. For syscall stops the
	// payload is filled in from orig_rax by the caller.
	report platform.TrapReport

	// status describes the stop for error messages.
	status string
}

// classifyStop decodes the wait status of a tracee that was resumed with
// PTRACE_O_TRACESYSGOOD set.
func classifyStop(ws unix.WaitStatus) stop {
	switch {
	case ws.Exited():
		return stop{kind: stopExited, status: fmt.Sprintf("exited with status %d", ws.ExitStatus())}
	case ws.Signaled():
		return stop{kind: stopExited, status: fmt.Sprintf("killed by %v", ws.Signal())}
	case !ws.Stopped():
		return stop{kind: stopEvent, report: platform.TrapReport{Category: platform.TrapGeneral}, status: fmt.Sprintf("wait status %#x", uint32(ws))}
	}

	sig := ws.StopSignal()
	switch {
	case sig == unix.SIGTRAP|0x80:
		return stop{
			kind: stopSyscall,
			report: platform.TrapReport{
				Category: platform.TrapPolicyError,
				SubCode:  platform.PolicyBadSyscall,
			},
			status: "syscall stop",
		}
	case sig == unix.SIGTRAP && ws.TrapCause() > 0:
		return stop{
			kind:   stopEvent,
			report: platform.TrapReport{Category: platform.TrapGeneral, Payload: uint64(ws.TrapCause())},
			status: fmt.Sprintf("ptrace event %d", ws.TrapCause()),
		}
	}

	st := stop{
		kind:   stopSignal,
		signal: sig,
		report: platform.TrapReport{Payload: uint64(sig)},
		status: fmt.Sprintf("stopped by %v", sig),
	}
	switch {
	case pageFaultSignals&linux.SignalSetOf(linux.Signal(sig)) != 0:
		st.report.Category = platform.TrapPageFault
	case sig == unix.SIGILL:
		st.report.Category = platform.TrapUndefinedInstruction
	case sig == unix.SIGTRAP:
		st.report.Category = platform.TrapSoftwareBreakpoint
	default:
		st.report.Category = platform.TrapGeneral
		st.report.SubCode = uint32(sig)
	}
	return st
}
