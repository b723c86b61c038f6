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

package platform

import (
	"errors"
	"testing"

	"gvisor.dev/gvisor/pkg/hostarch"
)

func TestParseTrapReport(t *testing.T) {
	want := TrapReport{Category: TrapPolicyError, SubCode: PolicyBadSyscall, Payload: 231}
	got, err := ParseTrapReport(want.Encode())
	if err != nil {
		t.Fatalf("ParseTrapReport failed: %v", err)
	}
	if got != want {
		t.Errorf("ParseTrapReport=%v, want %v", got, want)
	}
	if !got.IsBadSyscall() {
		t.Errorf("IsBadSyscall()=false for %v", got)
	}
}

func TestParseTrapReportTrailingBytes(t *testing.T) {
	b := append(TrapReport{Category: TrapGeneral, Payload: 7}.Encode(), 0xff, 0xff)
	got, err := ParseTrapReport(b)
	if err != nil {
		t.Fatalf("ParseTrapReport failed: %v", err)
	}
	if got.Category != TrapGeneral || got.Payload != 7 {
		t.Errorf("ParseTrapReport=%v, want general payload 7", got)
	}
}

func TestParseTrapReportMalformed(t *testing.T) {
	valid := TrapReport{Category: TrapPolicyError, SubCode: PolicyBadSyscall}.Encode()

	oversized := append([]byte(nil), valid...)
	hostarch.ByteOrder.PutUint32(oversized[0:4], TrapReportSize+8)

	undersized := append([]byte(nil), valid...)
	hostarch.ByteOrder.PutUint32(undersized[0:4], 4)

	noCategory := append([]byte(nil), valid...)
	hostarch.ByteOrder.PutUint32(noCategory[4:8], 0)

	for _, tc := range []struct {
		name string
		buf  []byte
	}{
		{name: "nil", buf: nil},
		{name: "short", buf: valid[:TrapReportSize-1]},
		{name: "size exceeds buffer", buf: oversized},
		{name: "size below minimum", buf: undersized},
		{name: "zero category", buf: noCategory},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTrapReport(tc.buf)
			var mre *MalformedReportError
			if !errors.As(err, &mre) {
				t.Fatalf("ParseTrapReport err=%v, want *MalformedReportError", err)
			}
			if mre.Len != len(tc.buf) {
				t.Errorf("MalformedReportError.Len=%d, want %d", mre.Len, len(tc.buf))
			}
		})
	}
}

func TestIsBadSyscall(t *testing.T) {
	for _, tc := range []struct {
		report TrapReport
		want   bool
	}{
		{TrapReport{Category: TrapPolicyError, SubCode: PolicyBadSyscall}, true},
		{TrapReport{Category: TrapPolicyError, SubCode: PolicyBadHandle}, false},
		{TrapReport{Category: TrapGeneral, SubCode: PolicyBadSyscall}, false},
		{TrapReport{Category: TrapPageFault}, false},
	} {
		if got := tc.report.IsBadSyscall(); got != tc.want {
			t.Errorf("%v.IsBadSyscall()=%t, want %t", tc.report, got, tc.want)
		}
	}
}

func TestOutcomeString(t *testing.T) {
	for o, want := range map[Outcome]string{
		OutcomePassToNext:      "pass-to-next-handler",
		OutcomeHandled:         "handled",
		OutcomeTerminateThread: "terminate-thread",
		Outcome(9):             "Outcome(9)",
	} {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String()=%q, want %q", int(o), got, want)
		}
	}
}
