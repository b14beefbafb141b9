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

// Package supervisor implements C6: the reconciliation pass that drives
// the container table, ENVROOT's directory tree, and the _default symlink
// toward whatever the runtime collaborator last reported.
package supervisor

import (
	"strings"

	"github.com/containers/toolbox-envfs/internal/container"
)

// table is the supervisor's in-memory map from container name to its
// lifecycle entry (spec.md §3's Container entry, one per eligible name).
// Touched only from the supervisor's event-loop goroutine.
type table struct {
	entries map[string]*container.Entry
}

func newTable() *table {
	return &table{entries: make(map[string]*container.Entry)}
}

func (t *table) get(name string) (*container.Entry, bool) {
	e, ok := t.entries[name]
	return e, ok
}

func (t *table) getOrCreate(id, name string) (*container.Entry, bool) {
	if e, ok := t.entries[name]; ok {
		return e, false
	}
	e := container.New(id, name)
	t.entries[name] = e
	return e, true
}

func (t *table) delete(name string) {
	delete(t.entries, name)
}

func (t *table) names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	return names
}

// pickDefault implements spec.md §4.6 step 4 / §9's tie-break: among names
// with prefix, the lexicographically greatest one wins; absent any match,
// there is no default.
func pickDefault(names []string, prefix string) (string, bool) {
	best := ""
	found := false
	for _, n := range names {
		if !strings.HasPrefix(n, prefix) {
			continue
		}
		if !found || n > best {
			best = n
			found = true
		}
	}
	return best, found
}
