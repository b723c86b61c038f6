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
	"testing"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
)

func TestExitCodeWriteOnce(t *testing.T) {
	var e ExitCode
	if _, ok := e.Load(); ok {
		t.Fatalf("zero ExitCode is set")
	}
	if !e.Set(3) {
		t.Errorf("first Set(3) returned false")
	}
	if e.Set(4) {
		t.Errorf("second Set(4) returned true")
	}
	if code, ok := e.Load(); !ok || code != 3 {
		t.Errorf("Load()=(%d, %t), want (3, true)", code, ok)
	}
}

func TestExitCodeConcurrentSet(t *testing.T) {
	var (
		e  ExitCode
		g  errgroup.Group
		ch = make(chan int32, 16)
	)
	for i := int32(0); i < 16; i++ {
		g.Go(func() error {
			if e.Set(i) {
				ch <- i
			}
			return nil
		})
	}
	g.Wait()
	close(ch)
	var winners []int32
	for w := range ch {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("%d Set calls succeeded, want 1", len(winners))
	}
	if code, _ := e.Load(); code != winners[0] {
		t.Errorf("Load()=%d, want the winning code %d", code, winners[0])
	}
}

func TestExtractErrno(t *testing.T) {
	for _, tc := range []struct {
		name   string
		err    error
		want   unix.Errno
		wantOK bool
	}{
		{name: "nil"},
		{name: "host", err: unix.ENOENT, want: unix.ENOENT, wantOK: true},
		{name: "guest", err: linuxerr.ENOSYS, want: unix.ENOSYS, wantOK: true},
		{name: "wrapped host", err: fmt.Errorf("x: %w", unix.EPERM), want: unix.EPERM, wantOK: true},
		{name: "wrapped guest", err: fmt.Errorf("x: %w", linuxerr.EFAULT), want: unix.EFAULT, wantOK: true},
		{name: "creation", err: &CreationError{Op: "op", Err: unix.EMFILE}, want: unix.EMFILE, wantOK: true},
		{name: "opaque", err: errors.New("opaque")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractErrno(tc.err)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("ExtractErrno(%v)=(%v, %t), want (%v, %t)", tc.err, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestCreationErrorIs(t *testing.T) {
	err := fmt.Errorf("spawn: %w", &CreationError{Op: "creating thread", Name: "init", Err: unix.EAGAIN})
	if !errors.Is(err, ErrResourceCreationFailed) {
		t.Errorf("errors.Is(%v, ErrResourceCreationFailed) = false", err)
	}
	if !errors.Is(err, unix.EAGAIN) {
		t.Errorf("errors.Is(%v, EAGAIN) = false", err)
	}
}
