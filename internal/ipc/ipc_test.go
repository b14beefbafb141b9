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

package ipc

import (
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	startErr error
	stopErr  error
	lastName string
}

func (h *fakeHandler) RequestStart(name string) <-chan error {
	h.lastName = name
	ch := make(chan error, 1)
	ch <- h.startErr
	return ch
}

func (h *fakeHandler) RequestStop(name string) <-chan error {
	h.lastName = name
	ch := make(chan error, 1)
	ch <- h.stopErr
	return ch
}

func startTestServer(t *testing.T, h Handler) (*Server, string) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "envfsd.sock")
	srv, err := NewServer(sockPath, h)
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, sockPath
}

func roundTrip(t *testing.T, sockPath string, req Request) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, req))
	raw, err := readFrame(conn)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestServerStartSuccess(t *testing.T) {
	h := &fakeHandler{}
	_, sockPath := startTestServer(t, h)

	resp := roundTrip(t, sockPath, Request{Verb: VerbStart, Name: "fedora-toolbox-1"})
	assert.Empty(t, resp.Error)
	assert.Equal(t, "fedora-toolbox-1", h.lastName)
}

func TestServerStopError(t *testing.T) {
	h := &fakeHandler{stopErr: errors.New("container not running")}
	_, sockPath := startTestServer(t, h)

	resp := roundTrip(t, sockPath, Request{Verb: VerbStop, Name: "fedora-toolbox-1"})
	assert.Equal(t, "container not running", resp.Error)
}

func TestServerUnknownVerb(t *testing.T) {
	h := &fakeHandler{}
	_, sockPath := startTestServer(t, h)

	resp := roundTrip(t, sockPath, Request{Verb: "frobnicate", Name: "x"})
	assert.Contains(t, resp.Error, "unknown verb")
}
