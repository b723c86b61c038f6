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


package config

import (
	"errors"
	"flag"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestFlags(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return testFlags
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guestrun.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		LogFormat:          LogFormatText,
		Platform:           PlatformPtrace,
		PassThroughLogRate: time.Second,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t,
		"--debug",
		"--log-format=json-k8s",
		"--debug-log=/tmp/guestrun.log",
		"--strace",
		"--job-name=hello",
		"--pass-through-log-rate=250ms",
	))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Debug:              true,
		LogFormat:          LogFormatJSONK8s,
		DebugLog:           "/tmp/guestrun.log",
		Strace:             true,
		Platform:           PlatformPtrace,
		JobName:            "hello",
		PassThroughLogRate: 250 * time.Millisecond,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
		want string
	}{
		{
			name: "log format",
			args: []string{"--log-format=xml"},
			want: "invalid log format",
		},
		{
			name: "platform",
			args: []string{"--platform=kvm"},
			want: "unsupported platform",
		},
		{
			name: "pass-through rate",
			args: []string{"--pass-through-log-rate=0s"},
			want: "must be positive",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFromFlags(newTestFlags(t, tc.args...))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("NewFromFlags(%v) err=%v, want error containing %q", tc.args, err, tc.want)
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
debug = true
strace = true
log-format = "json"
pass-through-log-rate = "2s"
job-name = "from-file"
`)
	c, err := NewFromFlags(newTestFlags(t, "--config="+path, "--job-name=from-flag"))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		ConfigFile:         path,
		Debug:              true,
		LogFormat:          LogFormatJSON,
		Strace:             true,
		Platform:           PlatformPtrace,
		JobName:            "from-flag",
		PassThroughLogRate: 2 * time.Second,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "unknown key",
			content: `network = "none"`,
			want:    `unknown key "network"`,
		},
		{
			name:    "nested config",
			content: `config = "other.toml"`,
			want:    `unknown key "config"`,
		},
		{
			name:    "bad value",
			content: `debug = "maybe"`,
			want:    "error setting debug=maybe",
		},
		{
			name:    "syntax",
			content: `debug = `,
			want:    "reading config file",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.content)
			_, err := NewFromFlags(newTestFlags(t, "--config="+path))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("NewFromFlags err=%v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	if _, err := NewFromFlags(newTestFlags(t, "--config="+path)); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("NewFromFlags err=%v, want %v", err, fs.ErrNotExist)
	}
}
