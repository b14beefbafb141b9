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

package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyEnvRoot(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.Mkdir(filepath.Join(dir, "fedora-toolbox-1"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "fedora-toolbox-2"), 0755))
	require.NoError(t, os.Symlink("fedora-toolbox-2", filepath.Join(dir, defaultLinkName)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray-file"), []byte("x"), 0644))

	dirs, hasDefault, extra, err := classifyEnvRoot(dir)
	require.NoError(t, err)

	assert.True(t, hasDefault)
	assert.ElementsMatch(t, []string{"stray-file"}, extra)
	assert.Len(t, dirs, 2)
	assert.True(t, dirs["fedora-toolbox-1"])
	assert.True(t, dirs["fedora-toolbox-2"])
}

func TestUpdateDefaultLinkCreatesAndReplaces(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, updateDefaultLink(dir, "fedora-toolbox-1"))
	target, err := os.Readlink(filepath.Join(dir, defaultLinkName))
	require.NoError(t, err)
	assert.Equal(t, "fedora-toolbox-1", target)

	require.NoError(t, updateDefaultLink(dir, "fedora-toolbox-2"))
	target, err = os.Readlink(filepath.Join(dir, defaultLinkName))
	require.NoError(t, err)
	assert.Equal(t, "fedora-toolbox-2", target)
}
