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

// Package container holds the per-container lifecycle object (spec.md §3,
// §4.5): identity, current pid, the supervised ENVFS child process, and
// the asynchronous start/stop coalescing state. Every method here is meant
// to be called from a single goroutine (the supervisor's event loop); the
// only concurrency crossing a goroutine boundary is the completion of a
// spawned start/stop subprocess, reported back through a shared channel
// rather than by touching the Entry directly.
package container

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/containers/toolbox-envfs/internal/logger"
)

// Verb identifies which coalesced operation a VerbResult completes.
type Verb int

const (
	VerbStart Verb = iota
	VerbStop
)

func (v Verb) String() string {
	if v == VerbStart {
		return "start"
	}
	return "stop"
}

// VerbResult is delivered on the supervisor's shared completion channel
// when a spawned runtime subprocess for (Name, Verb) finishes.
type VerbResult struct {
	Name string
	Verb Verb
	Err  error
}

// Runtime is the subset of runtime.Client's surface an Entry needs to
// spawn start/stop subprocesses. Kept local to avoid container importing
// the runtime package for nothing but this.
type Runtime interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
}

// Discoverer resolves a sibling helper binary's path, matching
// discovery.Discovery.Resolve's signature.
type Discoverer interface {
	Resolve(name string) (string, bool)
}

// Entry is the mutable per-container state described in spec.md §3.
// Invariants enforced by the methods below, never by an external caller:
//   - Pid == 0 implies Mounted == false and FuseChild == nil.
//   - Pid != 0 implies Mounted == true and FuseChild is a live child,
//     unless a transient mount failure was logged.
//   - pendingStarts is empty whenever Pid != 0.
//   - pendingStops is empty whenever Pid == 0.
type Entry struct {
	ID   string
	Name string
	Pid  int

	Mounted   bool
	FuseChild *exec.Cmd

	childOutput *logger.AsyncLogger

	starting      bool
	stopping      bool
	pendingStarts []chan<- error
	pendingStops  []chan<- error
}

// New builds an entry in its initial, unmounted state.
func New(id, name string) *Entry {
	return &Entry{ID: id, Name: name}
}

// RequestStart implements spec.md §4.5's start(entry): succeeds
// immediately if already running, otherwise coalesces onto any in-flight
// start subprocess or spawns a new one. The caller owns reading waiter
// exactly once; it is buffered so the completing goroutine never blocks.
func (e *Entry) RequestStart(rt Runtime, completions chan<- VerbResult) <-chan error {
	waiter := make(chan error, 1)

	if e.Pid != 0 {
		waiter <- nil
		return waiter
	}

	e.pendingStarts = append(e.pendingStarts, waiter)
	if !e.starting {
		e.starting = true
		name := e.Name
		go func() {
			err := rt.Start(context.Background(), name)
			completions <- VerbResult{Name: name, Verb: VerbStart, Err: err}
		}()
	}

	return waiter
}

// RequestStop is symmetric to RequestStart (spec.md §4.5's stop(entry)).
func (e *Entry) RequestStop(rt Runtime, completions chan<- VerbResult) <-chan error {
	waiter := make(chan error, 1)

	if e.Pid == 0 {
		waiter <- nil
		return waiter
	}

	e.pendingStops = append(e.pendingStops, waiter)
	if !e.stopping {
		e.stopping = true
		name := e.Name
		go func() {
			err := rt.Stop(context.Background(), name)
			completions <- VerbResult{Name: name, Verb: VerbStop, Err: err}
		}()
	}

	return waiter
}

// CompleteStart fans a finished start subprocess's result out to every
// waiter accumulated while it was in flight, then clears the coalescing
// state so a subsequent RequestStart spawns afresh.
func (e *Entry) CompleteStart(err error) {
	waiters := e.pendingStarts
	e.pendingStarts = nil
	e.starting = false
	for _, w := range waiters {
		w <- err
	}
}

// CompleteStop is symmetric to CompleteStart.
func (e *Entry) CompleteStop(err error) {
	waiters := e.pendingStops
	e.pendingStops = nil
	e.stopping = false
	for _, w := range waiters {
		w <- err
	}
}

// Mount implements spec.md §4.5's mount(entry): precondition FuseChild ==
// nil and Pid != 0. It spawns the ENVFS helper resolved through d and
// records the child handle; it does not wait for the mount to come up.
func (e *Entry) Mount(d Discoverer, envRoot, runTrampolinePath string) error {
	if e.FuseChild != nil {
		return fmt.Errorf("container: %s: mount called with a live fuse child", e.Name)
	}
	if e.Pid == 0 {
		return fmt.Errorf("container: %s: mount called with no pid", e.Name)
	}

	envfsPath, ok := d.Resolve("envfs")
	if !ok {
		return fmt.Errorf("container: %s: could not resolve envfs helper binary", e.Name)
	}

	mountPath := filepath.Join(envRoot, e.Name)
	cmd := exec.Command(envfsPath, strconv.Itoa(e.Pid), mountPath, runTrampolinePath)

	childOutput := logger.NewAsyncLogger(logger.NewLegacyWriteCloser(logger.LevelInfo, "envfs["+e.Name+"]: "), 256)
	cmd.Stdout = childOutput
	cmd.Stderr = childOutput

	if err := cmd.Start(); err != nil {
		childOutput.Close()
		return fmt.Errorf("container: %s: starting envfs helper: %w", e.Name, err)
	}

	e.FuseChild = cmd
	e.childOutput = childOutput
	e.Mounted = true
	return nil
}

// Unmount implements spec.md §4.5's unmount(entry): precondition FuseChild
// != nil. It asks C1 to unmount, then waits for the child to exit
// regardless of the unmount helper's outcome, since the child is expected
// to observe the unmount and exit on its own.
func (e *Entry) Unmount(unmount func(path string) error, envRoot string) error {
	if e.FuseChild == nil {
		return fmt.Errorf("container: %s: unmount called with no fuse child", e.Name)
	}

	mountPath := filepath.Join(envRoot, e.Name)
	if err := unmount(mountPath); err != nil {
		logger.Warnf("container: %s: unmount helper: %v", e.Name, err)
	}

	waitErr := e.FuseChild.Wait()
	if e.childOutput != nil {
		e.childOutput.Close()
		e.childOutput = nil
	}
	e.FuseChild = nil
	e.Mounted = false
	return waitErr
}

// Update implements spec.md §4.5's update(entry, new_info): applies an id
// change in place, and on a pid transition unmounts the stale instance
// before mounting the new one, in that mandatory order, even when both old
// and new pid are nonzero.
func (e *Entry) Update(newID string, newPid int, d Discoverer, unmount func(string) error, envRoot, runTrampolinePath string) error {
	if newID != e.ID {
		logger.Infof("container: %s: id %s -> %s", e.Name, e.ID, newID)
		e.ID = newID
	}

	if newPid == e.Pid {
		return nil
	}

	if e.Pid != 0 {
		if err := e.Unmount(unmount, envRoot); err != nil {
			logger.Warnf("container: %s: unmount during update: %v", e.Name, err)
		}
	}

	e.Pid = newPid

	if newPid != 0 {
		if err := e.Mount(d, envRoot, runTrampolinePath); err != nil {
			return fmt.Errorf("container: %s: mount during update: %w", e.Name, err)
		}
	}

	return nil
}
