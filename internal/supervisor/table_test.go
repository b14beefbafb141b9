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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateCreatesOnce(t *testing.T) {
	tb := newTable()

	e1, created1 := tb.getOrCreate("id1", "fedora-toolbox-1")
	require.True(t, created1)

	e2, created2 := tb.getOrCreate("id1", "fedora-toolbox-1")
	assert.False(t, created2)
	assert.Same(t, e1, e2)
}

func TestTableDeleteAndNames(t *testing.T) {
	tb := newTable()
	tb.getOrCreate("id1", "a")
	tb.getOrCreate("id2", "b")

	assert.ElementsMatch(t, []string{"a", "b"}, tb.names())

	tb.delete("a")
	assert.ElementsMatch(t, []string{"b"}, tb.names())

	_, ok := tb.get("a")
	assert.False(t, ok)
}

func TestPickDefaultPicksLexicographicallyGreatest(t *testing.T) {
	names := []string{"fedora-toolbox-1", "fedora-toolbox-10", "fedora-toolbox-2", "other-thing"}
	got, ok := pickDefault(names, "fedora-toolbox")
	require.True(t, ok)
	assert.Equal(t, "fedora-toolbox-2", got)
}

func TestPickDefaultNoMatch(t *testing.T) {
	_, ok := pickDefault([]string{"other-thing"}, "fedora-toolbox")
	assert.False(t, ok)
}

func TestPickDefaultIgnoresNonPrefixedNames(t *testing.T) {
	names := []string{"zzz-not-a-toolbox", "fedora-toolbox-1"}
	got, ok := pickDefault(names, "fedora-toolbox")
	require.True(t, ok)
	assert.Equal(t, "fedora-toolbox-1", got)
}
