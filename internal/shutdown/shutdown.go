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

// Package shutdown composes envfsd's independent teardown steps (the ipc
// listener, a mount sweep) into the single function
// cmd/serve.go runs on the way out.
package shutdown

import (
	"context"
	"errors"
)

// Fn tears down one resource. Context carries the shutdown deadline, not
// the request that's ending.
type Fn func(ctx context.Context) error

// Join combines fns into one Fn that runs every one of them regardless of
// earlier failures, returning their errors joined together.
func Join(fns ...Fn) Fn {
	return func(ctx context.Context) error {
		var err error
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			err = errors.Join(err, fn(ctx))
		}
		return err
	}
}
