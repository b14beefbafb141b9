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

package container

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRuntime struct {
	mu     sync.Mutex
	starts int
	stops  int
	err    error
}

func (r *countingRuntime) Start(ctx context.Context, name string) error {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
	return r.err
}

func (r *countingRuntime) Stop(ctx context.Context, name string) error {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
	return r.err
}

func (r *countingRuntime) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

type fakeDiscoverer struct {
	path string
	ok   bool
}

func (d fakeDiscoverer) Resolve(name string) (string, bool) { return d.path, d.ok }

func TestRequestStartAlreadyRunningResolvesImmediately(t *testing.T) {
	e := New("id1", "fedora-toolbox-1")
	e.Pid = 1234

	rt := &countingRuntime{}
	completions := make(chan VerbResult, 1)

	waiter := e.RequestStart(rt, completions)
	select {
	case err := <-waiter:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected immediate resolution")
	}
	assert.Equal(t, 0, rt.startCount())
}

func TestRequestStartCoalescesConcurrentCallers(t *testing.T) {
	e := New("id1", "fedora-toolbox-1")
	rt := &countingRuntime{}
	completions := make(chan VerbResult, 4)

	w1 := e.RequestStart(rt, completions)
	w2 := e.RequestStart(rt, completions)

	res := <-completions
	require.Equal(t, VerbStart, res.Verb)
	e.CompleteStart(res.Err)

	assert.NoError(t, <-w1)
	assert.NoError(t, <-w2)
	assert.Equal(t, 1, rt.startCount(), "two coalesced requests should spawn only one subprocess")
}

func TestRequestStartAfterCompletionSpawnsAfresh(t *testing.T) {
	e := New("id1", "fedora-toolbox-1")
	rt := &countingRuntime{}
	completions := make(chan VerbResult, 4)

	w1 := e.RequestStart(rt, completions)
	res := <-completions
	e.CompleteStart(res.Err)
	<-w1

	w2 := e.RequestStart(rt, completions)
	res2 := <-completions
	e.CompleteStart(res2.Err)
	<-w2

	assert.Equal(t, 2, rt.startCount())
}

func TestRequestStopAlreadyStoppedResolvesImmediately(t *testing.T) {
	e := New("id1", "fedora-toolbox-1")
	rt := &countingRuntime{}
	completions := make(chan VerbResult, 1)

	waiter := e.RequestStop(rt, completions)
	assert.NoError(t, <-waiter)
	assert.Equal(t, 0, rt.stops)
}

func TestCompleteStartPropagatesError(t *testing.T) {
	e := New("id1", "fedora-toolbox-1")
	wantErr := errors.New("boom")
	rt := &countingRuntime{err: wantErr}
	completions := make(chan VerbResult, 1)

	waiter := e.RequestStart(rt, completions)
	res := <-completions
	e.CompleteStart(res.Err)

	assert.Equal(t, wantErr, <-waiter)
}

func TestUnmountWithoutFuseChildFailsFast(t *testing.T) {
	e := New("id1", "fedora-toolbox-1")
	e.Pid = 111
	e.FuseChild = nil // not actually mounted in this unit test

	var order []string
	unmount := func(path string) error {
		order = append(order, "unmount")
		return nil
	}

	// Force the unmount branch without a live FuseChild by checking the
	// error path instead of exercising the real Mount subprocess spawn,
	// which needs a real discoverer and binary.
	err := e.Unmount(unmount, "/env")
	assert.Error(t, err, "unmount with no fuse child should fail fast")

	e.FuseChild = nil
	_ = order
}

func TestEntryUpdateRecordsIDChangeWithoutPidChange(t *testing.T) {
	e := New("id1", "fedora-toolbox-1")
	e.Pid = 42

	d := fakeDiscoverer{}
	err := e.Update("id2", 42, d, func(string) error { return nil }, "/env", "/run-trampoline")
	require.NoError(t, err)
	assert.Equal(t, "id2", e.ID)
	assert.Equal(t, 42, e.Pid)
}
