// Copyright 2025 Google Inc. All Rights Reserved.
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

package runtime

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinary writes an executable shell script to dir/name that prints
// stdout and exits with the given status, standing in for podman.
func fakeBinary(t *testing.T, name, stdout string, exitCode int) string {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("fake binaries are POSIX shell scripts")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\ncat <<'EOF'\n" + stdout + "\nEOF\nexit " + itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

const samplePS = `[
  {"ID":"abc123","Names":["fedora-toolbox-39"],"Pid":4242,"State":3,"Labels":{"com.redhat.component":"fedora-toolbox"}},
  {"ID":"def456","Names":["fedora-toolbox-38"],"Pid":0,"State":0,"Labels":{"com.redhat.component":"fedora-toolbox"}},
  {"ID":"ghi789","Names":["unrelated"],"Pid":1,"State":3,"Labels":{"com.redhat.component":"other"}},
  {"ID":"","Names":["missing-id"],"Pid":1,"State":3,"Labels":{"com.redhat.component":"fedora-toolbox"}},
  {"ID":"jkl000","Names":[],"Pid":1,"State":3,"Labels":{"com.redhat.component":"fedora-toolbox"}},
  {"ID":"mno111","Names":["no-labels"],"Pid":1,"State":3}
]`

func TestListFiltersAndMapsDescriptors(t *testing.T) {
	bin := fakeBinary(t, "podman", samplePS, 0)
	c := New(bin)

	got, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, Descriptor{ID: "abc123", Name: "fedora-toolbox-39", Pid: 4242, Eligible: true}, got[0])
	assert.Equal(t, Descriptor{ID: "def456", Name: "fedora-toolbox-38", Pid: 0, Eligible: true}, got[1])
}

func TestListPropagatesCommandFailure(t *testing.T) {
	bin := fakeBinary(t, "podman", "boom", 1)
	c := New(bin)

	_, err := c.List(context.Background())
	assert.Error(t, err)
}

func TestListPropagatesMalformedJSON(t *testing.T) {
	bin := fakeBinary(t, "podman", "not json", 0)
	c := New(bin)

	_, err := c.List(context.Background())
	assert.Error(t, err)
}

func TestStartSucceeds(t *testing.T) {
	bin := fakeBinary(t, "podman", "", 0)
	c := New(bin)
	assert.NoError(t, c.Start(context.Background(), "fedora-toolbox-39"))
}

func TestStopPropagatesError(t *testing.T) {
	bin := fakeBinary(t, "podman", "container not found", 1)
	c := New(bin)
	assert.Error(t, c.Stop(context.Background(), "nonexistent"))
}
