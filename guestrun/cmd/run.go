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

package cmd

import (
	"context"
	"flag"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"

	"github.com/google/subcommands"
	"github.com/guestrun/guestrun/guestrun/cmd/util"
	"github.com/guestrun/guestrun/guestrun/config"
	"github.com/guestrun/guestrun/pkg/kernel"
	"github.com/guestrun/guestrun/pkg/platform/ptrace"
	"github.com/guestrun/guestrun/pkg/syscalls/linux"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/log"
)

// guestPID is the thread group ID of the guest process.
const guestPID = 1

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// clearEnv starts the guest with an empty environment.
	clearEnv bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run a program as a guest"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] [--] <program> [args...] - run a program as a guest.

The program's syscalls are trapped and served by guestrun. guestrun exits with
the guest's exit code.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.clearEnv, "clear-env", false, "start the guest with an empty environment.")
}

// completion is the result of a guest task.
type completion struct {
	code int32
	err  error
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	waitStatus := args[1].(*unix.WaitStatus)

	argv := f.Args()
	path, err := exec.LookPath(argv[0])
	if err != nil {
		util.Fatalf("finding %q: %v", argv[0], err)
	}
	name := conf.JobName
	if name == "" {
		name = filepath.Base(path)
	}
	var env []string
	if !r.clearEnv {
		env = os.Environ()
	}

	k, err := kernel.NewKernel(kernel.InitKernelArgs{
		Syscalls:               linux.AMD64(linux.Config{Stdout: os.Stdout, Stderr: os.Stderr}),
		Strace:                 conf.Strace,
		PassThroughLogInterval: conf.PassThroughLogRate,
	})
	if err != nil {
		util.Fatalf("creating kernel: %v", err)
	}
	job := &ptrace.Job{
		Path:  path,
		Argv:  argv,
		Env:   env,
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	}
	thread, tg, m, err := kernel.NewProcessFactory(job).CreateProcess(guestPID, name)
	if err != nil {
		util.Fatalf("creating guest process: %v", err)
	}
	task, err := k.NewTask(&kernel.TaskConfig{
		TID:                   guestPID,
		Thread:                thread,
		ThreadGroup:           tg,
		MemoryManager:         m,
		SeedRegistersFromHost: true,
	})
	if err != nil {
		util.Fatalf("creating guest task: %v", err)
	}

	c, err := runTask(ctx, k, task)
	if err != nil {
		util.Fatalf("running %q: %v", path, err)
	}
	log.Infof("Guest %q exited with code %d", name, c)
	*waitStatus = unix.WaitStatus(uint32(c&0xff) << 8)
	return subcommands.ExitSuccess
}

// runTask executes task and waits for it to complete. SIGINT and SIGTERM
// received in the meantime kill the guest.
func runTask(ctx context.Context, k *kernel.Kernel, task *kernel.Task) (int32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan completion, 1)
	k.Execute(task, func(code int32, err error) {
		done <- completion{code: code, err: err}
	})

	var c completion
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		c = <-done
		return c.err
	})
	g.Go(func() error {
		select {
		case sig := <-sigs:
			s := sig.(unix.Signal)
			log.Infof("Received %v, killing guest", s)
			task.Kill(128 + int32(s))
		case <-gctx.Done():
		}
		return nil
	})
	err := g.Wait()
	return c.code, err
}
