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

package cfg

import "time"

const (
	// DefaultRuntimeBinary is the collaborator executable consulted for the
	// container list and start/stop verbs.
	DefaultRuntimeBinary = "podman"

	// DefaultNamePrefix is the prefix used to pick the default environment
	// among eligible containers (lexicographically greatest wins).
	DefaultNamePrefix = "fedora-toolbox"

	// DefaultEntryTimeoutSecs and DefaultAttrTimeoutSecs are the FUSE
	// entry/attribute cache validity windows advertised to the kernel.
	DefaultEntryTimeoutSecs = 1.0
	DefaultAttrTimeoutSecs  = 1.0

	// DefaultReconcileInterval is the safety-net period on which the
	// supervisor re-reconciles even absent a socket-directory event.
	DefaultReconcileInterval = 30 * time.Second
)
