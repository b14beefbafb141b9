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

// envfs is the per-container FUSE helper spawned by envfsd's supervisor. It
// takes exactly three positional arguments and no flags:
//
//	envfs CONTAINER_PID MOUNT_PATH RUN_TRAMPOLINE_PATH
//
// It exits 0 on a clean unmount and 1 on any setup failure, per spec.md §6.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/containers/toolbox-envfs/internal/envfs"
	"github.com/containers/toolbox-envfs/internal/logger"
)

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintf(os.Stderr, "usage: %s CONTAINER_PID MOUNT_PATH RUN_TRAMPOLINE_PATH\n", os.Args[0])
		os.Exit(1)
	}

	pid, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: invalid CONTAINER_PID %q: %v\n", os.Args[0], os.Args[1], err)
		os.Exit(1)
	}
	mountPath := os.Args[2]
	runTrampolinePath := os.Args[3]

	if err := envfs.Run(pid, mountPath, runTrampolinePath); err != nil {
		logger.Errorf("envfs: %v", err)
		os.Exit(1)
	}
}
