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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/containers/toolbox-envfs/internal/container"
	"github.com/containers/toolbox-envfs/internal/logger"
	"github.com/containers/toolbox-envfs/internal/mountutil"
	"github.com/containers/toolbox-envfs/internal/runtime"
)

const defaultLinkName = "_default"

// Config is everything Supervisor needs to run the reconciliation loop. It
// draws on both cfg.SupervisorConfig and cfg.FileSystemConfig (for
// RunTrampolinePath), so callers assemble it field by field.
type Config struct {
	EnvRoot           string
	SocketWatchDir    string
	DefaultNamePrefix string
	RunTrampolinePath string
	ReconcileInterval time.Duration
}

type ipcRequest struct {
	name  string
	verb  container.Verb
	reply chan<- error
}

// Supervisor is the single-threaded cooperative event loop hosting C5, C6,
// and C7 (spec.md §5): one goroutine owns the container table and ENVROOT;
// subprocess completions and IPC requests only ever reach it through
// channels, never by a second goroutine touching table state directly.
type Supervisor struct {
	cfg  Config
	rt   *runtime.Client
	disc container.Discoverer

	table          *table
	currentDefault string

	completions chan container.VerbResult
	ipcRequests chan ipcRequest

	// listInFlight enforces spec.md §4.6's "at most one List call in
	// flight" rule: fsnotify events and the reconcile timer both call
	// requestList, but a pass already running absorbs further requests
	// instead of queuing them.
	listInFlight bool
	listResults  chan listResult
}

type listResult struct {
	descriptors []runtime.Descriptor
	err         error
}

func New(cfg Config, rt *runtime.Client, disc container.Discoverer) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		rt:          rt,
		disc:        disc,
		table:       newTable(),
		completions: make(chan container.VerbResult, 16),
		ipcRequests: make(chan ipcRequest, 16),
		listResults: make(chan listResult, 1),
	}
}

// RequestStart enqueues an IPC-originated start verb and returns a channel
// that receives exactly one value once the supervisor's event loop has
// resolved it. Safe to call from any goroutine.
func (s *Supervisor) RequestStart(name string) <-chan error {
	reply := make(chan error, 1)
	s.ipcRequests <- ipcRequest{name: name, verb: container.VerbStart, reply: reply}
	return reply
}

// RequestStop is symmetric to RequestStart.
func (s *Supervisor) RequestStop(name string) <-chan error {
	reply := make(chan error, 1)
	s.ipcRequests <- ipcRequest{name: name, verb: container.VerbStop, reply: reply}
	return reply
}

// Run is the supervisor's main loop. It blocks until ctx is cancelled or an
// unrecoverable setup error occurs, performing an initial reconciliation
// pass before watching for further triggers.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.EnvRoot, 0755); err != nil {
		return fmt.Errorf("supervisor: creating env root: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("supervisor: creating watcher: %w", err)
	}
	defer watcher.Close()

	if s.cfg.SocketWatchDir != "" {
		if err := watcher.Add(s.cfg.SocketWatchDir); err != nil {
			logger.Warnf("supervisor: watching %s: %v", s.cfg.SocketWatchDir, err)
		}
	}

	s.requestList(ctx)

	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			s.requestList(ctx)

		case ev, ok := <-watcher.Events:
			if !ok {
				continue
			}
			logger.Debugf("supervisor: fs event %s", ev)
			s.requestList(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				continue
			}
			logger.Warnf("supervisor: watcher error: %v", err)

		case res := <-s.listResults:
			s.listInFlight = false
			if res.err != nil {
				logger.Warnf("supervisor: listing containers: %v", res.err)
				continue
			}
			if err := s.reconcile(res.descriptors); err != nil {
				logger.Warnf("supervisor: reconcile: %v", err)
			}

		case vr := <-s.completions:
			s.handleCompletion(vr)

		case req := <-s.ipcRequests:
			s.handleIPCRequest(req)
		}
	}
}

// requestList starts a runtime.List call on a helper goroutine unless one is
// already outstanding, implementing the single-in-flight-call rule.
func (s *Supervisor) requestList(ctx context.Context) {
	if s.listInFlight {
		return
	}
	s.listInFlight = true
	go func() {
		descriptors, err := s.rt.List(ctx)
		s.listResults <- listResult{descriptors: descriptors, err: err}
	}()
}

func (s *Supervisor) handleCompletion(vr container.VerbResult) {
	entry, ok := s.table.get(vr.Name)
	if !ok {
		logger.Warnf("supervisor: completion for unknown entry %s", vr.Name)
		return
	}
	if vr.Err != nil {
		logger.Warnf("supervisor: %s %s: %v", vr.Verb, vr.Name, vr.Err)
	}
	switch vr.Verb {
	case container.VerbStart:
		entry.CompleteStart(vr.Err)
	case container.VerbStop:
		entry.CompleteStop(vr.Err)
	}
}

func (s *Supervisor) handleIPCRequest(req ipcRequest) {
	entry, ok := s.table.get(req.name)
	if !ok {
		req.reply <- fmt.Errorf("supervisor: unknown container %q", req.name)
		return
	}

	var waiter <-chan error
	switch req.verb {
	case container.VerbStart:
		waiter = entry.RequestStart(s.rt, s.completions)
	case container.VerbStop:
		waiter = entry.RequestStop(s.rt, s.completions)
	}

	// Forwarding the eventual result only reads from waiter; it never
	// touches entry state, so doing it off the event-loop goroutine is
	// safe (spec.md §5).
	go func(reply chan<- error) {
		reply <- <-waiter
	}(req.reply)
}

// reconcile implements spec.md §4.6: bring the container table, ENVROOT's
// directory tree, and the _default symlink into agreement with descriptors.
func (s *Supervisor) reconcile(descriptors []runtime.Descriptor) error {
	oldDirs, oldHasDefaultLink, oldExtra, err := classifyEnvRoot(s.cfg.EnvRoot)
	if err != nil {
		return fmt.Errorf("classifying env root: %w", err)
	}

	for _, extra := range oldExtra {
		logger.Warnf("supervisor: removing unrecognized entry %s", extra)
		if err := os.RemoveAll(filepath.Join(s.cfg.EnvRoot, extra)); err != nil {
			logger.Warnf("supervisor: removing %s: %v", extra, err)
		}
	}

	seen := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		seen[d.Name] = true

		entry, created := s.table.getOrCreate(d.ID, d.Name)
		if created {
			entry.Pid = 0
		}

		if err := entry.Update(d.ID, d.Pid, s.disc, mountutil.Unmount, s.cfg.EnvRoot, s.cfg.RunTrampolinePath); err != nil {
			logger.Warnf("supervisor: updating %s: %v", d.Name, err)
		}

		dir := filepath.Join(s.cfg.EnvRoot, d.Name)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.Mkdir(dir, 0755); err != nil {
				logger.Warnf("supervisor: creating %s: %v", dir, err)
			}
		}
		delete(oldDirs, d.Name)
	}

	for name := range oldDirs {
		entry, ok := s.table.get(name)
		if ok && entry.Mounted {
			if err := entry.Unmount(mountutil.Unmount, s.cfg.EnvRoot); err != nil {
				logger.Warnf("supervisor: unmounting removed container %s: %v", name, err)
			}
		}
		s.table.delete(name)
		if err := os.RemoveAll(filepath.Join(s.cfg.EnvRoot, name)); err != nil {
			logger.Warnf("supervisor: removing stale dir %s: %v", name, err)
		}
	}

	for _, name := range s.table.names() {
		if !seen[name] {
			s.table.delete(name)
		}
	}

	newDefault, haveDefault := pickDefault(s.table.names(), s.cfg.DefaultNamePrefix)
	if !haveDefault {
		if oldHasDefaultLink {
			if err := os.Remove(filepath.Join(s.cfg.EnvRoot, defaultLinkName)); err != nil && !os.IsNotExist(err) {
				logger.Warnf("supervisor: removing %s: %v", defaultLinkName, err)
			}
		}
		s.currentDefault = ""
		return nil
	}

	if newDefault != s.currentDefault {
		if err := updateDefaultLink(s.cfg.EnvRoot, newDefault); err != nil {
			return fmt.Errorf("updating %s symlink: %w", defaultLinkName, err)
		}
		s.currentDefault = newDefault
	}

	return nil
}

// classifyEnvRoot lists ENVROOT's immediate children, splitting them into
// directories (candidate container mount points), whether the _default
// symlink exists, and anything else (old_extra, to be removed).
func classifyEnvRoot(envRoot string) (dirs map[string]bool, hasDefaultLink bool, extra []string, err error) {
	entries, err := os.ReadDir(envRoot)
	if err != nil {
		return nil, false, nil, err
	}

	dirs = make(map[string]bool)
	for _, ent := range entries {
		name := ent.Name()
		if name == defaultLinkName {
			hasDefaultLink = true
			continue
		}
		if ent.IsDir() {
			dirs[name] = true
			continue
		}
		extra = append(extra, name)
	}
	return dirs, hasDefaultLink, extra, nil
}

// updateDefaultLink atomically repoints envRoot/_default at target, via a
// temporary symlink plus rename so there is never a window with no link or
// a half-written one.
func updateDefaultLink(envRoot, target string) error {
	linkPath := filepath.Join(envRoot, defaultLinkName)
	tmpPath := linkPath + ".tmp"

	os.Remove(tmpPath)
	if err := os.Symlink(target, tmpPath); err != nil {
		return err
	}
	return os.Rename(tmpPath, linkPath)
}
