// Copyright 2024 Google Inc. All Rights Reserved.
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

// Package mountutil implements C1: invoking the kernel's user-space
// filesystem unmount helper and sweeping up mounts left behind by an
// abruptly-terminated ENVFS child.
package mountutil

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/containers/toolbox-envfs/internal/logger"
)

// Unmount invokes fusermount(1) in lazy, quiet, non-blocking mode. It
// returns a non-nil error iff the helper exits nonzero, mirroring
// jacobsa/fuse's own fuserunmount helper.
func Unmount(path string) error {
	fusermount, err := exec.LookPath("fusermount")
	if err != nil {
		fusermount, err = exec.LookPath("fusermount3")
		if err != nil {
			return fmt.Errorf("finding fusermount: %w", err)
		}
	}

	cmd := exec.Command(fusermount, "-u", "-z", "-q", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("fusermount -u %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// devIno identifies a file by the (device, inode) pair the kernel assigns
// it, used to recognize a mount's parent directory regardless of the path
// used to reach it.
type devIno struct {
	dev uint64
	ino uint64
}

func statDevIno(path string) (devIno, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return devIno{}, err
	}
	return devIno{dev: uint64(st.Dev), ino: st.Ino}, nil
}

// mountPoints returns every mount point currently visible to this process,
// read from /proc/self/mountinfo.
func mountPoints() ([]string, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return nil, fmt.Errorf("opening /proc/self/mountinfo: %w", err)
	}
	defer f.Close()

	var points []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// Format (see proc(5)): the mount point is always the 5th
		// whitespace-separated field.
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		points = append(points, fields[4])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading /proc/self/mountinfo: %w", err)
	}
	return points, nil
}

// SweepStale unmounts every currently-visible mount whose parent directory
// is envRoot, recovering from an unclean daemon shutdown. Per-mount errors
// are logged but do not abort the sweep.
func SweepStale(envRoot string) {
	want, err := statDevIno(envRoot)
	if err != nil {
		logger.Warnf("mountutil: stat %s: %v", envRoot, err)
		return
	}

	points, err := mountPoints()
	if err != nil {
		logger.Warnf("mountutil: listing mounts: %v", err)
		return
	}

	for _, mp := range points {
		parent := filepath.Dir(mp)
		got, err := statDevIno(parent)
		if err != nil || got != want {
			continue
		}

		logger.Infof("mountutil: sweeping stale mount %s", mp)
		if err := Unmount(mp); err != nil {
			logger.Warnf("mountutil: unmounting stale mount %s: %v", mp, err)
		}
	}
}
