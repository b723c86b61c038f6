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


// Package util groups a bunch of common helper functions used by commands.
package util

import (
	"fmt"
	"os"

	"gvisor.dev/gvisor/pkg/log"
)

// ExitFailure is the exit status used when guestrun itself fails. It is
// outside the range of guest exit codes that guestrun reports.
const ExitFailure = 128

// Fatalf logs the same message as Errorf and exits with ExitFailure.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(ExitFailure)
}

// Errorf logs an error to the debug log and writes it to stderr.
func Errorf(format string, args ...any) {
	log.Warningf("FATAL ERROR: "+format, args...)
	fmt.Fprintf(os.Stderr, "guestrun: "+format+"\n", args...)
}
