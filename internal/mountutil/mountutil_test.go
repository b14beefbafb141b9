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

package mountutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatDevInoSameDirMatches(t *testing.T) {
	dir := t.TempDir()

	a, err := statDevIno(dir)
	require.NoError(t, err)
	b, err := statDevIno(dir)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestStatDevInoDistinguishesDirs(t *testing.T) {
	a, err := statDevIno(t.TempDir())
	require.NoError(t, err)
	b, err := statDevIno(t.TempDir())
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestStatDevInoMissingPath(t *testing.T) {
	_, err := statDevIno(filepath.Join(t.TempDir(), "nonexistent"))
	assert.Error(t, err)
}

func TestMountPointsReadsProcSelfMountinfo(t *testing.T) {
	points, err := mountPoints()
	require.NoError(t, err)
	assert.Contains(t, points, "/")
}

func TestSweepStaleNoOpWhenNothingMountedUnderRoot(t *testing.T) {
	// envRoot has no descendant mounts, so SweepStale must not attempt to
	// invoke fusermount at all; it should return without panicking or
	// blocking regardless of whether fusermount is installed.
	envRoot := t.TempDir()
	assert.NotPanics(t, func() { SweepStale(envRoot) })
}
