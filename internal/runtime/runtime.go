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

// Package runtime is the adapter for the external container-runtime
// collaborator (spec.md's "black box"): it enumerates containers and
// starts/stops them by name. The collaborator itself is not implemented
// here; this package only shells out to it and parses its output.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/containers/toolbox-envfs/internal/logger"
)

// requiredLabel is the label that marks a container as an eligible toolbox
// environment.
const requiredLabel = "com.redhat.component"
const requiredLabelValue = "fedora-toolbox"

// runningState is the collaborator's documented container-state enum value
// for "running".
const runningState = 3

// Descriptor is an immutable snapshot of one eligible container, as
// described in spec.md §3.
type Descriptor struct {
	ID       string
	Name     string
	Pid      int
	Eligible bool
}

// rawDescriptor is the wire shape of one element of `podman ps
// --format=json`'s top-level array. Fields the collaborator omits are
// zero-valued; descriptors missing ID, Names, Pid, or Labels are skipped by
// List per spec.md §4.6.
type rawDescriptor struct {
	ID     string            `json:"ID"`
	Names  []string          `json:"Names"`
	Pid    *int              `json:"Pid"`
	State  int               `json:"State"`
	Labels map[string]string `json:"Labels"`
}

// Client shells out to the collaborator binary named by Binary (normally
// "podman" on $PATH).
type Client struct {
	Binary string
}

func New(binary string) *Client {
	return &Client{Binary: binary}
}

// List runs "<binary> ps -a --format=json --no-trunc --namespace" and
// returns one Descriptor per eligible, well-formed array element.
func (c *Client) List(ctx context.Context) ([]Descriptor, error) {
	cmd := exec.CommandContext(ctx, c.Binary, "ps", "-a", "--format=json", "--no-trunc", "--namespace")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s ps: %w: %s", c.Binary, err, stderr.String())
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("parsing %s ps output: %w", c.Binary, err)
	}

	descriptors := make([]Descriptor, 0, len(raw))
	for _, elem := range raw {
		var rd rawDescriptor
		if err := json.Unmarshal(elem, &rd); err != nil {
			logger.Warnf("runtime: skipping malformed container entry: %v", err)
			continue
		}
		if rd.ID == "" || len(rd.Names) == 0 || rd.Pid == nil || rd.Labels == nil {
			continue
		}
		if rd.Labels[requiredLabel] != requiredLabelValue {
			continue
		}

		d := Descriptor{
			ID:       rd.ID,
			Name:     rd.Names[0],
			Eligible: true,
		}
		if rd.State == runningState {
			d.Pid = *rd.Pid
		}
		descriptors = append(descriptors, d)
	}

	return descriptors, nil
}

// Start invokes "<binary> start <name>" and waits for it to complete.
func (c *Client) Start(ctx context.Context, name string) error {
	return c.runVerb(ctx, "start", name)
}

// Stop invokes "<binary> stop <name>" and waits for it to complete.
func (c *Client) Stop(ctx context.Context, name string) error {
	return c.runVerb(ctx, "stop", name)
}

func (c *Client) runVerb(ctx context.Context, verb, name string) error {
	cmd := exec.CommandContext(ctx, c.Binary, verb, name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s %s: %w: %s", c.Binary, verb, name, err, bytes.TrimSpace(out))
	}
	return nil
}
