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

package platformtest

import (
	"fmt"

	"github.com/guestrun/guestrun/pkg/arch"
	"github.com/guestrun/guestrun/pkg/platform"
	"gvisor.dev/gvisor/pkg/sync"
)

// Journal entries recorded in addition to the Op* names.
const (
	EntryTrap    = "trap"
	EntryResolve = "resolve"
)

// Thread implements platform.Thread.
type Thread struct {
	proc *Process
	id   platform.ThreadID
	name string

	mu sync.Mutex

	fail     map[string]error
	hooks    map[string]func() error
	script   []Step
	regs     arch.Registers
	writes   []arch.Registers
	journal  []string
	outcomes []platform.Outcome

	started      bool
	suspendCount int
	trapPending  bool
	killed       bool
	exited       bool
	closed       bool
	ch           *TrapChannel
}

// ID implements platform.Thread.ID.
func (t *Thread) ID() platform.ThreadID {
	return t.id
}

// Name returns the name the thread was created with.
func (t *Thread) Name() string {
	return t.name
}

// Script appends steps to the thread's script.
func (t *Thread) Script(steps ...Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, steps...)
}

// FailOn makes operation op fail with err.
func (t *Thread) FailOn(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail[op] = err
}

// Intercept installs fn to run each time op is called, before the thread's
// lock is taken, so fn may call back into the kernel. A non-nil result
// fails op. Only OpWriteRegisters and EntryResolve are intercepted.
func (t *Thread) Intercept(op string, fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hooks == nil {
		t.hooks = make(map[string]func() error)
	}
	t.hooks[op] = fn
}

// intercept runs the hook installed for op, if any.
func (t *Thread) intercept(op string) error {
	t.mu.Lock()
	fn := t.hooks[op]
	t.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

// SetRegisters replaces the register state without recording a write.
func (t *Thread) SetRegisters(regs arch.Registers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.regs = regs
}

// Registers returns the current register state.
func (t *Thread) Registers() arch.Registers {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.regs
}

// RegisterWrites returns every register state passed to WriteRegisters.
func (t *Thread) RegisterWrites() []arch.Registers {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]arch.Registers(nil), t.writes...)
}

// Journal returns the operations performed on the thread, in order.
func (t *Thread) Journal() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.journal...)
}

// Outcomes returns the outcomes of the thread's resolved traps, in order.
func (t *Thread) Outcomes() []platform.Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]platform.Outcome(nil), t.outcomes...)
}

// SuspendCount returns the number of unreleased suspend tokens.
func (t *Thread) SuspendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspendCount
}

// Killed returns true if Kill was called.
func (t *Thread) Killed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}

// Exited returns true if a trap was resolved with OutcomeTerminateThread.
func (t *Thread) Exited() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exited
}

// Closed returns true if the handle was closed.
func (t *Thread) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Channel returns the thread's trap channel, or nil.
func (t *Thread) Channel() *TrapChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch
}

// opLocked journals op and returns its injected failure, if any.
//
// Preconditions: t.mu is locked.
func (t *Thread) opLocked(op string) error {
	t.journal = append(t.journal, op)
	return t.fail[op]
}

// Start implements platform.Thread.Start.
func (t *Thread) Start() error {
	if !t.proc.Started() {
		return fmt.Errorf("thread %d: process %d not started", t.id, t.proc.id)
	}
	return t.start()
}

func (t *Thread) start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.opLocked(OpStart); err != nil {
		return err
	}
	if t.started {
		return fmt.Errorf("thread %d: already started", t.id)
	}
	t.started = true
	t.runLocked()
	return nil
}

// Suspend implements platform.Thread.Suspend.
func (t *Thread) Suspend() (platform.SuspendToken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.opLocked(OpSuspend); err != nil {
		return nil, err
	}
	t.suspendCount++
	return &suspendToken{t: t}, nil
}

// WaitSuspended implements platform.Thread.WaitSuspended.
func (t *Thread) WaitSuspended() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.opLocked(OpWaitSuspended); err != nil {
		return err
	}
	if !t.started {
		return fmt.Errorf("thread %d: not started", t.id)
	}
	if t.suspendCount == 0 {
		return fmt.Errorf("thread %d: not suspended", t.id)
	}
	return nil
}

// ReadRegisters implements platform.Thread.ReadRegisters.
func (t *Thread) ReadRegisters(regs *arch.Registers) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.opLocked(OpReadRegisters); err != nil {
		return err
	}
	*regs = t.regs
	return nil
}

// WriteRegisters implements platform.Thread.WriteRegisters.
func (t *Thread) WriteRegisters(regs *arch.Registers) error {
	hookErr := t.intercept(OpWriteRegisters)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.opLocked(OpWriteRegisters); err != nil {
		return err
	}
	if hookErr != nil {
		return hookErr
	}
	t.regs = *regs
	t.writes = append(t.writes, *regs)
	return nil
}

// CreateTrapChannel implements platform.Thread.CreateTrapChannel.
func (t *Thread) CreateTrapChannel() (platform.TrapChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.opLocked(OpCreateTrapChannel); err != nil {
		return nil, err
	}
	if t.ch != nil {
		return nil, fmt.Errorf("thread %d: trap channel already exists", t.id)
	}
	t.ch = newTrapChannel()
	return t.ch, nil
}

// Kill implements platform.Thread.Kill.
func (t *Thread) Kill() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.opLocked(OpKill); err != nil {
		return err
	}
	t.killed = true
	return nil
}

// Close implements platform.Thread.Close.
func (t *Thread) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// runLocked runs the guest until its next trap, if the thread is runnable.
//
// Preconditions: t.mu is locked.
func (t *Thread) runLocked() {
	if !t.started || t.suspendCount > 0 || t.trapPending || t.killed || t.exited || t.ch == nil {
		return
	}
	if len(t.script) == 0 {
		return
	}
	step := t.script[0]
	t.script = t.script[1:]
	if step.Regs != nil {
		step.Regs(&t.regs)
	}
	switch {
	case step.Close:
		t.ch.Close()
	case step.Err != nil:
		t.ch.deliver(nil, step.Err)
	default:
		raw := step.Raw
		if raw == nil {
			raw = step.Report.Encode()
		}
		tid := step.Thread
		if tid == 0 {
			tid = t.id
		}
		t.trapPending = true
		t.journal = append(t.journal, EntryTrap)
		t.ch.deliver(&platform.Notification{
			Thread:   tid,
			Report:   raw,
			Resolver: &resolver{t: t},
		}, nil)
	}
}

type suspendToken struct {
	t        *Thread
	released bool
}

// Release implements platform.SuspendToken.Release.
func (s *suspendToken) Release() error {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.released {
		return fmt.Errorf("thread %d: suspend token released twice", t.id)
	}
	if err := t.opLocked(OpRelease); err != nil {
		return err
	}
	s.released = true
	t.suspendCount--
	t.runLocked()
	return nil
}

type resolver struct {
	t    *Thread
	done bool
}

// Resolve implements platform.Resolver.Resolve.
func (r *resolver) Resolve(o platform.Outcome) error {
	t := r.t
	hookErr := t.intercept(EntryResolve)
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.done {
		return fmt.Errorf("thread %d: trap resolved twice", t.id)
	}
	if hookErr != nil {
		t.journal = append(t.journal, EntryResolve+"/"+o.String()+"/failed")
		return hookErr
	}
	r.done = true
	t.trapPending = false
	t.outcomes = append(t.outcomes, o)
	t.journal = append(t.journal, EntryResolve+"/"+o.String())
	if o == platform.OutcomeTerminateThread {
		t.exited = true
		return nil
	}
	t.runLocked()
	return nil
}

// TrapChannel implements platform.TrapChannel.
type TrapChannel struct {
	results   chan readResult
	closed    chan struct{}
	closeOnce sync.Once
}

type readResult struct {
	n   *platform.Notification
	err error
}

func newTrapChannel() *TrapChannel {
	return &TrapChannel{
		results: make(chan readResult, 1),
		closed:  make(chan struct{}),
	}
}

func (c *TrapChannel) deliver(n *platform.Notification, err error) {
	select {
	case c.results <- readResult{n: n, err: err}:
	default:
		panic("platformtest: trap delivered while another is unread")
	}
}

// Read implements platform.TrapChannel.Read.
func (c *TrapChannel) Read() (*platform.Notification, error) {
	select {
	case <-c.closed:
		return nil, platform.ErrChannelClosed
	default:
	}
	select {
	case r := <-c.results:
		return r.n, r.err
	case <-c.closed:
		return nil, platform.ErrChannelClosed
	}
}

// Close implements platform.TrapChannel.Close.
func (c *TrapChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// IsClosed returns true if the channel was closed.
func (c *TrapChannel) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
