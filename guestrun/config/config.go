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


// Package config provides basic infrastructure to set configuration settings
// for guestrun. Each setting that can be changed from the command line must
// have a corresponding flag name.
package config

import (
	"fmt"
	"reflect"
	"time"

	"gvisor.dev/gvisor/pkg/log"
)

// Log formats accepted by --log-format.
const (
	LogFormatText    = "text"
	LogFormatJSON    = "json"
	LogFormatJSONK8s = "json-k8s"
)

// PlatformPtrace is the only supported host platform.
const PlatformPtrace = "ptrace"

// Config holds configuration that is not part of the guest command line.
type Config struct {
	// ConfigFile is the TOML file the configuration was read from, if any.
	ConfigFile string `flag:"config"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFormat is the log format: text, json or json-k8s.
	LogFormat string `flag:"log-format"`

	// DebugLog is the path to log debug information to, if not empty.
	DebugLog string `flag:"debug-log"`

	// AlsoLogToStderr allows logs to also be sent to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Strace indicates that every dispatched syscall should be logged.
	Strace bool `flag:"strace"`

	// Platform is the host platform guest processes run on.
	Platform string `flag:"platform"`

	// JobName names the guest process. If empty, the executable name is
	// used.
	JobName string `flag:"job-name"`

	// PassThroughLogRate is the minimum interval between log messages about
	// traps that are passed to the host.
	PassThroughLogRate time.Duration `flag:"pass-through-log-rate"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON, LogFormatJSONK8s:
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", c.LogFormat)
	}
	if c.Platform != PlatformPtrace {
		return fmt.Errorf("unsupported platform %q, must be %q", c.Platform, PlatformPtrace)
	}
	if c.PassThroughLogRate <= 0 {
		return fmt.Errorf("pass-through-log-rate must be positive, got %v", c.PassThroughLogRate)
	}
	return nil
}

// Log logs the effective configuration.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("  %s: %v", name, obj.Field(i).Interface())
	}
}
