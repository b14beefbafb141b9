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

package envfs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jacobsa/fuse"
	"golang.org/x/sys/unix"

	"github.com/containers/toolbox-envfs/cfg"
	"github.com/containers/toolbox-envfs/internal/logger"
	"github.com/containers/toolbox-envfs/internal/mountutil"
)

// Run implements the ENVFS kernel session lifecycle (spec.md §4.2): it
// opens the container's root filesystem as a path-only descriptor, mounts
// the read-only exe/raw views at mountPath, enters the container's user
// namespace, and runs the dispatch loop until the kernel or a signal tears
// the session down.
//
// Every failure before the dispatch loop starts is fatal: the caller exits
// nonzero and relies on the supervisor to observe the dead child and sweep
// the stale mount on its next start (spec.md §7).
func Run(containerPID int, mountPath, runTrampolinePath string) error {
	sourceFD, err := openSourceFD(containerPID)
	if err != nil {
		return fmt.Errorf("opening /proc/%d/root: %w", containerPID, err)
	}
	defer sourceFD.Close()

	server, err := NewServer(&ServerConfig{
		SourceFD:          sourceFD,
		RunTrampolinePath: runTrampolinePath,
		EntryTimeout:      time.Duration(cfg.DefaultEntryTimeoutSecs * float64(time.Second)),
		AttrTimeout:       time.Duration(cfg.DefaultAttrTimeoutSecs * float64(time.Second)),
	})
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	mountCfg := &fuse.MountConfig{
		FSName:      "envfs",
		Subtype:     "envfs",
		VolumeName:  fmt.Sprintf("envfs-%d", containerPID),
		ReadOnly:    true,
		Options:     map[string]string{"default_permissions": ""},
		ErrorLogger: logger.NewLegacyLogger(logger.LevelError, fmt.Sprintf("envfs[%d]: ", containerPID)),
	}

	mfs, err := fuse.Mount(mountPath, server, mountCfg)
	if err != nil {
		return fmt.Errorf("fuse.Mount: %w", err)
	}

	// Namespace entry must happen after SOURCE_FD is captured (spec.md §4.2,
	// §9): opening /proc/<pid>/root would fail under the container's
	// credentials once we have joined its user namespace.
	if err := enterUserNamespace(containerPID); err != nil {
		logger.Errorf("envfs: entering user namespace of pid %d: %v", containerPID, err)
		if uerr := mountutil.Unmount(mountPath); uerr != nil {
			logger.Warnf("envfs: unmounting %s after failed namespace entry: %v", mountPath, uerr)
		}
		return fmt.Errorf("entering user namespace: %w", err)
	}

	return mfs.Join(context.Background())
}

func openSourceFD(pid int) (*os.File, error) {
	path := fmt.Sprintf("/proc/%d/root", pid)
	fd, err := unix.Open(path, unix.O_PATH, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}

func enterUserNamespace(pid int) error {
	path := fmt.Sprintf("/proc/%d/ns/user", pid)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return unix.Setns(int(f.Fd()), unix.CLONE_NEWUSER)
}
