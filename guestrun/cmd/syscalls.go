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


package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/guestrun/guestrun/guestrun/cmd/util"
	"github.com/guestrun/guestrun/pkg/syscalls"
	"github.com/guestrun/guestrun/pkg/syscalls/linux"
)

// Syscalls implements subcommands.Command for the "syscalls" command.
type Syscalls struct {
	output string
}

type outputFunc func(io.Writer, *syscalls.SyscallTable) error

// outputMap maps output format names to output functions.
var outputMap = map[string]outputFunc{
	"table": outputTable,
	"json":  outputJSON,
}

// Name implements subcommands.Command.Name.
func (*Syscalls) Name() string {
	return "syscalls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Syscalls) Synopsis() string {
	return "Print the syscalls implemented for guests."
}

// Usage implements subcommands.Command.Usage.
func (*Syscalls) Usage() string {
	return `syscalls [options] - Print the syscalls implemented for guests.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Syscalls) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.output, "o", "table", "Output format (table, json).")
}

// Execute implements subcommands.Command.Execute.
func (s *Syscalls) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	out, ok := outputMap[s.output]
	if !ok {
		util.Fatalf("Unsupported output format %q", s.output)
	}
	if err := out(os.Stdout, linux.AMD64(linux.Config{})); err != nil {
		util.Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// outputTable outputs the table in tabular format.
func outputTable(w io.Writer, table *syscalls.SyscallTable) error {
	if _, err := fmt.Fprintf(w, "%s:\n\n", table.Name); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintf(tw, "%s\t%s\n", "NUM", "NAME"); err != nil {
		return err
	}
	for _, e := range table.Entries() {
		if _, err := fmt.Fprintf(tw, "%d\t%s\n", e.Sysno, e.Name); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// syscallsJSON is the JSON form of a table.
type syscallsJSON struct {
	Table    string           `json:"table"`
	Syscalls []syscalls.Entry `json:"syscalls"`
}

// outputJSON outputs the table in JSON format.
func outputJSON(w io.Writer, table *syscalls.SyscallTable) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(syscallsJSON{Table: table.Name, Syscalls: table.Entries()})
}
