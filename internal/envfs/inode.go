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

// Package envfs implements C2-C4: the per-container FUSE filesystem, its
// inode table, and the read-only operations served against a container's
// root filesystem.
package envfs

import (
	"fmt"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"
)

// key is the equivalence class an inode is interned under: two inodes are
// the same iff their path strings are byte-equal and their raw flags match.
// Matches spec.md §3/§4.3.
type key struct {
	path string
	raw  bool
}

// hashKey reproduces the mixing function named in spec.md §4.3
// (H(path, raw) = raw·60013 + H_str(path)). Nothing in this package actually
// probes a hash bucket with it -- Go's native map does that job, keyed
// directly on the comparable key struct above -- but it's kept as a pure,
// independently testable function so the "reproducible hash" testable
// property in spec.md §8 has something concrete to check against.
func hashKey(path string, raw bool) uint64 {
	var h uint64 = 14695981039346656037 // FNV-1a offset basis
	for i := 0; i < len(path); i++ {
		h ^= uint64(path[i])
		h *= 1099511628211 // FNV-1a prime
	}
	if raw {
		h += 60013
	}
	return h
}

// Inode is the in-memory representation of spec.md's ENVFS inode: either
// the process-wide root singleton, or an (path, raw_flag) pair backed by a
// path inside the container's root filesystem.
type Inode struct {
	ID   fuseops.InodeID
	root bool

	// Path is relative to the container root; empty for the root inode and
	// for the exe/raw view roots. Raw selects which view an "other" inode
	// belongs to; meaningless for the root inode.
	Path string
	Raw  bool

	// refcount mirrors the sum of nlookup values the kernel has been told
	// about for this inode (spec.md §8). Guarded by Table.mu; never touched
	// outside it, so no atomic type is needed.
	refcount uint64
}

func (in *Inode) key() key { return key{path: in.Path, raw: in.Raw} }

// Table is the content-addressed, reference-counted inode cache described
// in spec.md §4.3: a hash set keyed by (path, raw_flag), guarded by a
// single mutex held only across table mutation, never across I/O.
type Table struct {
	// GUARDED_BY(mu)
	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	byKey map[key]*Inode
	// GUARDED_BY(mu)
	byID map[fuseops.InodeID]*Inode
	// GUARDED_BY(mu)
	nextID fuseops.InodeID

	root *Inode
}

// NewTable builds a table pre-populated with the root singleton.
func NewTable() *Table {
	t := &Table{
		byKey:  make(map[key]*Inode),
		byID:   make(map[fuseops.InodeID]*Inode),
		nextID: fuseops.RootInodeID + 1,
	}
	t.root = &Inode{ID: fuseops.RootInodeID, root: true, refcount: 1}
	t.byID[fuseops.RootInodeID] = t.root
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

// checkInvariants enforces spec.md §3/§8: at most one live inode per
// equivalence class, and every tracked refcount stays positive until
// removal. Only runs under builds that enable jacobsa/syncutil's checking
// (see DESIGN.md); a no-op otherwise, so it never costs anything in
// production.
func (t *Table) checkInvariants() {
	for k, in := range t.byKey {
		if in.key() != k {
			panic(fmt.Sprintf("envfs: key mismatch: %v vs %v", k, in.key()))
		}
		if in.refcount == 0 {
			panic(fmt.Sprintf("envfs: zero-refcount inode still interned: %+v", in))
		}
		if t.byID[in.ID] != in {
			panic(fmt.Sprintf("envfs: byID/byKey disagree for inode %d", in.ID))
		}
	}
	if len(t.byID) != len(t.byKey)+1 {
		panic("envfs: byID and byKey+root disagree on inode count")
	}
}

// Root returns the singleton root inode. Its lookup count is never
// decremented to zero by Forget (spec.md §4.3).
func (t *Table) Root() *Inode { return t.root }

// Intern returns the unique live inode for (path, raw), creating it with a
// refcount of one if no equivalent entry exists, or incrementing the
// existing entry's refcount otherwise. Matches spec.md §4.3's intern
// operation and §8's "intern(p,r) twice in a row increments refcount by 2"
// property.
func (t *Table) Intern(path string, raw bool) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{path: path, raw: raw}
	if in, ok := t.byKey[k]; ok {
		in.refcount++
		return in
	}

	in := &Inode{ID: t.nextID, Path: path, Raw: raw, refcount: 1}
	t.nextID++
	t.byKey[k] = in
	t.byID[in.ID] = in
	return in
}

// Lookup resolves a kernel-supplied inode ID to its Inode, without touching
// the refcount.
func (t *Table) Lookup(id fuseops.InodeID) (*Inode, bool) {
	if id == fuseops.RootInodeID {
		return t.root, true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	in, ok := t.byID[id]
	return in, ok
}

// Forget subtracts n from id's refcount, removing it from the table if the
// result is zero. The root inode silently ignores Forget, per spec.md
// §4.3. The decrement-to-zero and removal happen atomically under the
// table lock so a concurrent Intern for the same key cannot resurrect an
// entry out from under a Forget that is in flight for it.
func (t *Table) Forget(id fuseops.InodeID, n uint64) {
	if id == fuseops.RootInodeID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	in, ok := t.byID[id]
	if !ok {
		return
	}
	if n > in.refcount {
		panic(fmt.Sprintf("envfs: forget(%d, %d) exceeds refcount %d", id, n, in.refcount))
	}

	in.refcount -= n
	if in.refcount == 0 {
		delete(t.byID, id)
		delete(t.byKey, in.key())
	}
}

// ForgetMulti applies Forget to every entry of a kernel forget-multi batch.
func (t *Table) ForgetMulti(entries []fuseops.ForgetInodeEntry) {
	for _, e := range entries {
		t.Forget(e.InodeID, e.N)
	}
}

// Len reports the number of live non-root inodes; exposed for tests
// checking spec.md §8's invariants.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byKey)
}
