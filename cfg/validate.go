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

import "fmt"

func isValidLogRotateConfig(c *LogRotateLoggingConfig) error {
	if c.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be at least 1")
	}
	if c.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (retain all) or a positive value")
	}
	return nil
}

// ValidateConfig returns a non-nil error if config is unfit to start the
// supervisor with.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	if config.Supervisor.EnvRoot == "" {
		return fmt.Errorf("supervisor.env-root must be set")
	}
	if config.Supervisor.RuntimeBinary == "" {
		return fmt.Errorf("supervisor.runtime-binary must be set")
	}
	if config.FileSystem.EntryTimeoutSecs < 0 {
		return fmt.Errorf("file-system.entry-timeout-secs can't be negative")
	}
	if config.FileSystem.AttrTimeoutSecs < 0 {
		return fmt.Errorf("file-system.attr-timeout-secs can't be negative")
	}
	return nil
}
