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

package logger

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAsyncLoggerWritesReachTheUnderlyingWriter(t *testing.T) {
	sb := &syncBuffer{}
	al := NewAsyncLogger(sb, 16)

	_, err := al.Write([]byte("hello\n"))
	require.NoError(t, err)

	require.NoError(t, al.Close())
	assert.Equal(t, "hello\n", sb.String())
	assert.True(t, sb.closed)
}

func TestAsyncLoggerDropsWritesPastBufferCapacity(t *testing.T) {
	sb := &syncBuffer{}
	al := NewAsyncLogger(sb, 0)

	// With a zero-capacity channel and no reader yet guaranteed to be
	// ready, at least one of these writes may be dropped; Write itself
	// must never block or error.
	for i := 0; i < 4; i++ {
		n, err := al.Write([]byte("x"))
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	require.NoError(t, al.Close())
}
