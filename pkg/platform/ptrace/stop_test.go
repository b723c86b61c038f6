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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/guestrun/guestrun/pkg/platform"
	"golang.org/x/sys/unix"
)

func stoppedStatus(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(uint32(sig)<<8 | 0x7f)
}

func TestClassifyStop(t *testing.T) {
	for _, tc := range []struct {
		name       string
		ws         unix.WaitStatus
		wantKind   stopKind
		wantSignal unix.Signal
		wantReport platform.TrapReport
	}{
		{
			name:     "exited",
			ws:       unix.WaitStatus(3 << 8),
			wantKind: stopExited,
		},
		{
			name:     "killed",
			ws:       unix.WaitStatus(unix.SIGKILL),
			wantKind: stopExited,
		},
		{
			name:     "syscall",
			ws:       stoppedStatus(unix.SIGTRAP | 0x80),
			wantKind: stopSyscall,
			wantReport: platform.TrapReport{
				Category: platform.TrapPolicyError,
				SubCode:  platform.PolicyBadSyscall,
			},
		},
		{
			name:     "exec event",
			ws:       unix.WaitStatus(uint32(unix.PTRACE_EVENT_EXEC)<<16 | uint32(unix.SIGTRAP)<<8 | 0x7f),
			wantKind: stopEvent,
			wantReport: platform.TrapReport{
				Category: platform.TrapGeneral,
				Payload:  unix.PTRACE_EVENT_EXEC,
			},
		},
		{
			name:       "segv",
			ws:         stoppedStatus(unix.SIGSEGV),
			wantKind:   stopSignal,
			wantSignal: unix.SIGSEGV,
			wantReport: platform.TrapReport{Category: platform.TrapPageFault, Payload: uint64(unix.SIGSEGV)},
		},
		{
			name:       "bus",
			ws:         stoppedStatus(unix.SIGBUS),
			wantKind:   stopSignal,
			wantSignal: unix.SIGBUS,
			wantReport: platform.TrapReport{Category: platform.TrapPageFault, Payload: uint64(unix.SIGBUS)},
		},
		{
			name:       "ill",
			ws:         stoppedStatus(unix.SIGILL),
			wantKind:   stopSignal,
			wantSignal: unix.SIGILL,
			wantReport: platform.TrapReport{Category: platform.TrapUndefinedInstruction, Payload: uint64(unix.SIGILL)},
		},
		{
			name:       "breakpoint",
			ws:         stoppedStatus(unix.SIGTRAP),
			wantKind:   stopSignal,
			wantSignal: unix.SIGTRAP,
			wantReport: platform.TrapReport{Category: platform.TrapSoftwareBreakpoint, Payload: uint64(unix.SIGTRAP)},
		},
		{
			name:       "other signal",
			ws:         stoppedStatus(unix.SIGUSR1),
			wantKind:   stopSignal,
			wantSignal: unix.SIGUSR1,
			wantReport: platform.TrapReport{
				Category: platform.TrapGeneral,
				SubCode:  uint32(unix.SIGUSR1),
				Payload:  uint64(unix.SIGUSR1),
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			st := classifyStop(tc.ws)
			if st.kind != tc.wantKind {
				t.Errorf("kind=%d, want %d (%s)", st.kind, tc.wantKind, st.status)
			}
			if st.signal != tc.wantSignal {
				t.Errorf("signal=%v, want %v", st.signal, tc.wantSignal)
			}
			if st.kind == stopExited {
				return
			}
			if diff := cmp.Diff(tc.wantReport, st.report); diff != "" {
				t.Errorf("report mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSyscallStopIsBadSyscall(t *testing.T) {
	st := classifyStop(stoppedStatus(unix.SIGTRAP | 0x80))
	st.report.Payload = 60
	got, err := platform.ParseTrapReport(st.report.Encode())
	if err != nil {
		t.Fatalf("ParseTrapReport failed: %v", err)
	}
	if !got.IsBadSyscall() || got.Payload != 60 {
		t.Errorf("decoded report %v, want a bad syscall with payload 60", got)
	}
}
