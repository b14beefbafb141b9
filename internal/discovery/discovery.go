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

// Package discovery implements C7: finding sibling helper binaries (envfs,
// run) alongside the running daemon, with a fallback to an in-tree
// development checkout.
package discovery

import (
	"os"
	"path/filepath"

	"github.com/kardianos/osext"
)

const (
	productName  = "toolbox"
	licenseMaker = "COPYING"
)

// Discovery resolves sibling executables relative to the running binary,
// the way osext-based tools locate their own install directory reliably
// across argv[0] edge cases (relative paths, PATH lookups, symlinks).
type Discovery struct {
	primaryDir  string
	fallbackDir string
}

// New records argv[0]'s directory as the primary lookup directory, then
// walks ancestors looking for a development checkout of productName.
func New() *Discovery {
	d := &Discovery{}

	if dir, err := osext.ExecutableFolder(); err == nil {
		d.primaryDir = dir
	} else if len(os.Args) > 0 {
		if abs, err := filepath.Abs(os.Args[0]); err == nil {
			d.primaryDir = filepath.Dir(abs)
		}
	}

	d.fallbackDir = findDevTree(d.primaryDir)
	return d
}

// findDevTree walks ancestors of dir looking for one whose basename is
// productName and which contains a COPYING file, supporting in-tree
// development where the helper binaries live in a build output directory
// that is a descendant of the checkout root.
func findDevTree(dir string) string {
	for cur := dir; cur != "" && cur != "/" && cur != "."; cur = filepath.Dir(cur) {
		if filepath.Base(cur) != productName {
			continue
		}
		if _, err := os.Stat(filepath.Join(cur, licenseMaker)); err == nil {
			return cur
		}
	}
	return ""
}

// Resolve returns the path to name if it is executable in the primary
// directory, else in the fallback directory, else false.
func (d *Discovery) Resolve(name string) (string, bool) {
	if d.primaryDir != "" {
		if p := d.primaryDir + "/" + name; isExecutable(p) {
			return p, true
		}
	}
	if d.fallbackDir != "" {
		if p := d.fallbackDir + "/" + name; isExecutable(p) {
			return p, true
		}
	}
	return "", false
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
