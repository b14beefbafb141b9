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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/daemonize"

	"github.com/containers/toolbox-envfs/cfg"
	"github.com/containers/toolbox-envfs/internal/discovery"
	"github.com/containers/toolbox-envfs/internal/ipc"
	"github.com/containers/toolbox-envfs/internal/logger"
	"github.com/containers/toolbox-envfs/internal/mountutil"
	"github.com/containers/toolbox-envfs/internal/runtime"
	"github.com/containers/toolbox-envfs/internal/shutdown"
	"github.com/containers/toolbox-envfs/internal/supervisor"
)

// inBackgroundModeEnvVar marks the re-exec'd child that daemonize.Run spawns,
// distinguishing it from the process a user invokes directly.
const inBackgroundModeEnvVar = "ENVFSD_IN_BACKGROUND_MODE"

// runServe is rootCmd's RunE body: it either re-executes itself in the
// background via daemonize and reports the outcome back to the original
// invocation, or (in foreground mode, or inside the daemonized child) runs
// the supervisor loop directly.
func runServe(ctx context.Context, c *cfg.Config, foreground bool) error {
	if !foreground && os.Getenv(inBackgroundModeEnvVar) == "" {
		return daemonizeSelf()
	}

	if err := logger.InitLogFile(logger.Config{
		FilePath: string(c.Logging.FilePath),
		Format:   c.Logging.Format,
		Severity: string(c.Logging.Severity),
		Rotate: logger.LogRotateConfig{
			MaxFileSizeMB: c.Logging.LogRotate.MaxFileSizeMb,
			BackupFileCnt: c.Logging.LogRotate.BackupFileCount,
			Compress:      c.Logging.LogRotate.Compress,
		},
	}); err != nil {
		return fmt.Errorf("initializing log file: %w", err)
	}

	mountutil.SweepStale(string(c.Supervisor.EnvRoot))

	disc := discovery.New()
	rt := runtime.New(c.Supervisor.RuntimeBinary)

	sup := supervisor.New(supervisor.Config{
		EnvRoot:           string(c.Supervisor.EnvRoot),
		SocketWatchDir:    string(c.Supervisor.SocketWatchDir),
		DefaultNamePrefix: c.Supervisor.DefaultNamePrefix,
		RunTrampolinePath: string(c.FileSystem.RunTrampolinePath),
		ReconcileInterval: c.Supervisor.ReconcileInterval,
	}, rt, disc)

	ipcServer, err := ipc.NewServer(string(c.Supervisor.IPCSocketPath), sup)
	if err != nil {
		return fmt.Errorf("starting ipc server: %w", err)
	}

	teardown := shutdown.Join(
		func(context.Context) error { return ipcServer.Close() },
		func(context.Context) error { mountutil.SweepStale(string(c.Supervisor.EnvRoot)); return nil },
	)
	defer func() {
		if err := teardown(context.Background()); err != nil {
			logger.Warnf("envfsd: shutdown: %v", err)
		}
	}()

	go func() {
		if err := ipcServer.Serve(); err != nil {
			logger.Errorf("ipc server: %v", err)
		}
	}()

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if os.Getenv(inBackgroundModeEnvVar) != "" {
		if err := daemonize.SignalOutcome(nil); err != nil {
			logger.Errorf("signaling successful start to parent: %v", err)
		}
	}

	logger.Infof("envfsd: serving env root %s", c.Supervisor.EnvRoot)
	err = sup.Run(runCtx)
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}

// daemonizeSelf re-executes the current binary with the same arguments,
// marked with inBackgroundModeEnvVar, and waits for it to report its
// startup outcome back through daemonize's pipe protocol.
func daemonizeSelf() error {
	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable path: %w", err)
	}

	env := append(os.Environ(), inBackgroundModeEnvVar+"=true")

	if err := daemonize.Run(path, os.Args[1:], env, os.Stdout); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	logger.Infof("envfsd: started in the background")
	return nil
}
