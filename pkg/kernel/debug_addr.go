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

// setProcessDebugAddr publishes the memory manager's debugger rendezvous
// address on the host process, so that host debuggers can find the guest's
// loaded modules. It is a no-op if the address is unset or already
// published.
func (t *Task) setProcessDebugAddr() error {
	addr := t.mm.DebugAddr()
	if addr == 0 {
		return nil
	}
	p := t.tg.process
	cur, err := p.DebugAddr()
	if err != nil {
		return err
	}
	if cur == addr {
		return nil
	}
	if err := p.SetDebugAddr(addr); err != nil {
		return err
	}
	t.Debugf("Registered debug address %#x", addr)
	return nil
}
