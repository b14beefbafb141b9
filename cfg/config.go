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

// Package cfg holds envfsd's configuration tree and its pflag/viper
// bindings.
package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Supervisor SupervisorConfig `yaml:"supervisor"`
	FileSystem FileSystemConfig `yaml:"file-system"`
	Logging    LoggingConfig    `yaml:"logging"`
	Debug      DebugConfig      `yaml:"debug"`
}

type SupervisorConfig struct {
	// EnvRoot is the directory under which per-container mount points and
	// the _default symlink live ($XDG_DATA_HOME/toolbox/env).
	EnvRoot ResolvedPath `yaml:"env-root"`

	// RuntimeBinary is the collaborator executable on $PATH.
	RuntimeBinary string `yaml:"runtime-binary"`

	// SocketWatchDir is the directory watched for the runtime's control
	// socket; any reported change triggers a reconciliation pass.
	SocketWatchDir ResolvedPath `yaml:"socket-watch-dir"`

	// IPCSocketPath is the address of the Start/Stop request/response
	// channel exposed to external clients.
	IPCSocketPath ResolvedPath `yaml:"ipc-socket-path"`

	// DefaultNamePrefix selects which eligible containers participate in
	// the _default symlink tie-break.
	DefaultNamePrefix string `yaml:"default-name-prefix"`

	// ReconcileInterval is a fallback period; reconciliation is normally
	// driven by SocketWatchDir events, not by this timer.
	ReconcileInterval time.Duration `yaml:"reconcile-interval"`
}

type FileSystemConfig struct {
	// RunTrampolinePath is the host-side binary substituted for executable
	// regular files in the "exe" view.
	RunTrampolinePath ResolvedPath `yaml:"run-trampoline-path"`

	EntryTimeoutSecs float64 `yaml:"entry-timeout-secs"`
	AttrTimeoutSecs  float64 `yaml:"attr-timeout-secs"`
}

type LoggingConfig struct {
	FilePath  ResolvedPath           `yaml:"file-path"`
	Format    string                 `yaml:"format"`
	Severity  LogSeverity            `yaml:"severity"`
	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

type DebugConfig struct {
	// ExitOnInvariantViolation is accepted in configuration but read by no
	// component; an inode-table invariant failure, when syncutil's
	// invariant checking is enabled, always panics.
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	// LogMutex is accepted in configuration but read by no component; no
	// inode-table lock acquisition is logged.
	LogMutex bool `yaml:"log-mutex"`
}

// BindFlags registers envfsd's flags on flagSet and binds each to viper so
// that config-file, environment, and flag values are all unmarshalled into
// the same Config by Execute.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("supervisor.env-root", "", "Directory under which container mount points are exposed.")
	flagSet.String("supervisor.runtime-binary", DefaultRuntimeBinary, "Container-runtime executable to consult for container state.")
	flagSet.String("supervisor.socket-watch-dir", "", "Directory whose changes trigger a reconciliation pass.")
	flagSet.String("supervisor.ipc-socket-path", "", "Unix socket address for the Start/Stop request channel.")
	flagSet.String("supervisor.default-name-prefix", DefaultNamePrefix, "Name prefix considered for the _default symlink.")
	flagSet.Duration("supervisor.reconcile-interval", DefaultReconcileInterval, "Fallback reconciliation period.")

	flagSet.String("file-system.run-trampoline-path", "", "Path to the run trampoline binary substituted into the exe view.")
	flagSet.Float64("file-system.entry-timeout-secs", DefaultEntryTimeoutSecs, "Validated only; the envfs helper always advertises DefaultEntryTimeoutSecs.")
	flagSet.Float64("file-system.attr-timeout-secs", DefaultAttrTimeoutSecs, "Validated only; the envfs helper always advertises DefaultAttrTimeoutSecs.")

	flagSet.String("logging.file-path", "", "Log file path; empty means log to stderr.")
	flagSet.String("logging.format", "json", "Log format: text or json.")
	flagSet.String("logging.severity", string(InfoLogSeverity), "Log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	flagSet.Int("logging.log-rotate.max-file-size-mb", 512, "Max size, in MB, before the log file is rotated.")
	flagSet.Int("logging.log-rotate.backup-file-count", 10, "Number of rotated log files to retain (0 retains all).")
	flagSet.Bool("logging.log-rotate.compress", true, "Compress rotated log files.")

	flagSet.Bool("debug.exit-on-invariant-violation", false, "Has no effect: no component reads this setting.")
	flagSet.Bool("debug.log-mutex", false, "Has no effect: no component reads this setting.")

	return viper.BindPFlags(flagSet)
}
