// Copyright 2025 Google LLC
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

package cfg

import (
	"testing"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hookTarget struct {
	Severity LogSeverity
	Path     ResolvedPath
	Period   time.Duration
}

func decodeWithHook(t *testing.T, input map[string]interface{}) hookTarget {
	t.Helper()
	var out hookTarget
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: hookFunc(),
		Result:     &out,
	})
	require.NoError(t, err)
	require.NoError(t, decoder.Decode(input))
	return out
}

func TestHookFuncDecodesLogSeverity(t *testing.T) {
	out := decodeWithHook(t, map[string]interface{}{"Severity": "error"})
	assert.Equal(t, ErrorLogSeverity, out.Severity)
}

func TestHookFuncDecodesResolvedPath(t *testing.T) {
	out := decodeWithHook(t, map[string]interface{}{"Path": "/abs/path"})
	assert.Equal(t, ResolvedPath("/abs/path"), out.Path)
}

func TestHookFuncDecodesDuration(t *testing.T) {
	out := decodeWithHook(t, map[string]interface{}{"Period": "30s"})
	assert.Equal(t, 30*time.Second, out.Period)
}

func TestHookFuncRejectsInvalidSeverity(t *testing.T) {
	var out hookTarget
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: hookFunc(),
		Result:     &out,
	})
	require.NoError(t, err)
	assert.Error(t, decoder.Decode(map[string]interface{}{"Severity": "NOPE"}))
}
