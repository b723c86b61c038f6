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
	"fmt"

	"gvisor.dev/gvisor/pkg/hostarch"
)

// TrapCategory is the class of a trap.
type TrapCategory uint32

// Trap categories.
const (
	TrapGeneral TrapCategory = iota + 1
	TrapPageFault
	TrapUndefinedInstruction
	TrapSoftwareBreakpoint
	TrapPolicyError
)

// String implements fmt.Stringer.
func (c TrapCategory) String() string {
	switch c {
	case TrapGeneral:
		return "general"
	case TrapPageFault:
		return "page-fault"
	case TrapUndefinedInstruction:
		return "undefined-instruction"
	case TrapSoftwareBreakpoint:
		return "software-breakpoint"
	case TrapPolicyError:
		return "policy-error"
	default:
		return fmt.Sprintf("TrapCategory(%d)", uint32(c))
	}
}

// Sub-codes of TrapPolicyError.
const (
	// PolicyBadSyscall is raised when a thread executes a syscall
	// instruction the host does not service itself. The report payload
	// holds the syscall number.
	PolicyBadSyscall uint32 = iota + 1

	// PolicyBadHandle is raised on misuse of a host handle.
	PolicyBadHandle
)

// TrapReport is the decoded form of a trap report.
//
// The encoded report is little endian:
//
//	[0:4)   total size in bytes
//	[4:8)   category
//	[8:12)  sub-code
//	[12:16) reserved
//	[16:24) payload
type TrapReport struct {
	Category TrapCategory
	SubCode  uint32
	Payload  uint64
}

// TrapReportSize is the size of an encoded TrapReport.
const TrapReportSize = 24

// IsBadSyscall returns true if r reports a guest syscall instruction.
func (r TrapReport) IsBadSyscall() bool {
	return r.Category == TrapPolicyError && r.SubCode == PolicyBadSyscall
}

// String implements fmt.Stringer.
func (r TrapReport) String() string {
	return fmt.Sprintf("%v/%d payload=%#x", r.Category, r.SubCode, r.Payload)
}

// Encode returns the wire form of r.
func (r TrapReport) Encode() []byte {
	b := make([]byte, TrapReportSize)
	hostarch.ByteOrder.PutUint32(b[0:4], TrapReportSize)
	hostarch.ByteOrder.PutUint32(b[4:8], uint32(r.Category))
	hostarch.ByteOrder.PutUint32(b[8:12], r.SubCode)
	hostarch.ByteOrder.PutUint64(b[16:24], r.Payload)
	return b
}

// MalformedReportError is returned by ParseTrapReport for a buffer that does
// not hold a valid report.
type MalformedReportError struct {
	// Len is the length of the rejected buffer.
	Len int

	// Reason describes the defect.
	Reason string
}

// Error implements error.Error.
func (e *MalformedReportError) Error() string {
	return fmt.Sprintf("malformed trap report (%d bytes): %s", e.Len, e.Reason)
}

// ParseTrapReport decodes a trap report. The buffer length is validated
// before any field is interpreted.
func ParseTrapReport(b []byte) (TrapReport, error) {
	if len(b) < TrapReportSize {
		return TrapReport{}, &MalformedReportError{Len: len(b), Reason: fmt.Sprintf("shorter than %d bytes", TrapReportSize)}
	}
	size := hostarch.ByteOrder.Uint32(b[0:4])
	if size < TrapReportSize || int(size) > len(b) {
		return TrapReport{}, &MalformedReportError{Len: len(b), Reason: fmt.Sprintf("header size %d out of range", size)}
	}
	r := TrapReport{
		Category: TrapCategory(hostarch.ByteOrder.Uint32(b[4:8])),
		SubCode:  hostarch.ByteOrder.Uint32(b[8:12]),
		Payload:  hostarch.ByteOrder.Uint64(b[16:24]),
	}
	if r.Category == 0 {
		return TrapReport{}, &MalformedReportError{Len: len(b), Reason: "zero category"}
	}
	return r, nil
}
