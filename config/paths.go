// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: config/paths.go
// Summary: XDG path resolution for config, trace database and log file.

package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

const appName = "texelgfx"

// configPaths lists candidate config files in load order; the local file
// wins over the XDG one.
func configPaths() []string {
	return []string{
		filepath.Join(xdg.ConfigHome, appName, "config.toml"),
		appName + ".toml",
	}
}

// TracePath resolves where the event trace database lives, creating the
// parent directory when the configured path is left empty.
func (c *Config) TracePath() (string, error) {
	if c.Trace.Path != "" {
		return c.Trace.Path, nil
	}
	return xdg.DataFile(filepath.Join(appName, "trace.db"))
}

// LogFile resolves the debug log destination.
func (c *Config) LogFile() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	return xdg.StateFile(filepath.Join(appName, appName+".log"))
}
