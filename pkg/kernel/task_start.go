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
	"gvisor.dev/gvisor/pkg/cleanup"
	"gvisor.dev/gvisor/pkg/sync"
)

// suspension wraps a SuspendToken so that it is released at most once.
type suspension struct {
	tok  platform.SuspendToken
	once sync.Once
	err  error
}

func (s *suspension) release() error {
	s.once.Do(func() { s.err = s.tok.Release() })
	return s.err
}

// startThread starts t's host thread and returns the channel on which its
// traps are delivered.
//
// The host thread is suspended before it is started so that it executes no
// guest instruction until its registers have been set. On failure every
// resource acquired here is released, and a host thread that was already
// started is killed.
func (t *Task) startThread() (platform.TrapChannel, error) {
	ch, err := t.thread.CreateTrapChannel()
	if err != nil {
		return nil, t.startError("creating trap channel", err)
	}
	cu := cleanup.Make(func() {
		if err := ch.Close(); err != nil {
			t.Warningf("Closing trap channel: %v", err)
		}
	})
	defer cu.Clean()

	tok, err := t.thread.Suspend()
	if err != nil {
		return nil, t.startError("suspending thread", err)
	}
	s := &suspension{tok: tok}
	cu.Add(func() {
		if err := s.release(); err != nil {
			t.Warningf("Releasing suspension: %v", err)
		}
	})

	if t.IsLeader() {
		err = t.tg.process.Start(t.thread)
	} else {
		err = t.thread.Start()
	}
	if err != nil {
		return nil, t.startError("starting thread", err)
	}
	// Cleanups run in reverse order: the thread is killed before its
	// suspension is dropped.
	cu.Add(func() {
		if err := t.thread.Kill(); err != nil {
			t.Warningf("Killing partially started thread: %v", err)
		}
	})

	if err := t.thread.WaitSuspended(); err != nil {
		return nil, t.startError("waiting for suspension", err)
	}

	if t.seedRegisters {
		err = t.thread.ReadRegisters(&t.regs)
	} else {
		err = t.thread.WriteRegisters(&t.regs)
	}
	if err != nil {
		return nil, t.startError("setting initial registers", err)
	}

	if err := s.release(); err != nil {
		return nil, t.startError("releasing suspension", err)
	}

	cu.Release()
	t.Debugf("Started host thread %d at %#x", t.thread.ID(), t.regs.IP())
	return ch, nil
}

func (t *Task) startError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrThreadStartFailed, op, err)
}
