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

package cli

import (
	"github.com/google/subcommands"
	"github.com/guestrun/guestrun/guestrun/cmd"
)

// forEachPlatformCmd invokes cb for the commands that need a host platform.
func forEachPlatformCmd(cb func(cmd subcommands.Command, group string)) {
	cb(new(cmd.Run), "")
}
