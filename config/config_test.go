// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: config/config_test.go
// Summary: Loading, merging, and the default fallbacks for sizes and
//          durations.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyGivesDefaults(t *testing.T) {
	cfg, err := loadFrom(nil)
	if err != nil {
		t.Fatalf("loadFrom: %v", err)
	}
	if cfg.StoreQuota() != DefaultStoreQuota {
		t.Errorf("StoreQuota = %d, want default", cfg.StoreQuota())
	}
	if cfg.EvictionGrace() != DefaultEvictionGrace {
		t.Errorf("EvictionGrace = %v, want default", cfg.EvictionGrace())
	}
	if cfg.MaxAccumulator() != DefaultMaxAccumulator {
		t.Errorf("MaxAccumulator = %d, want default", cfg.MaxAccumulator())
	}
	if cfg.ChunkTimeout() != DefaultChunkTimeout {
		t.Errorf("ChunkTimeout = %v, want default", cfg.ChunkTimeout())
	}
	if !cfg.TimeoutReports() {
		t.Error("TimeoutReports should default to true")
	}
	if cfg.FrameDelay() != DefaultFrameDelay {
		t.Errorf("FrameDelay = %v, want default", cfg.FrameDelay())
	}
	if w, h := cfg.CellSize(); w != DefaultCellWidthPx || h != DefaultCellHeightPx {
		t.Errorf("CellSize = %dx%d, want defaults", w, h)
	}
	if cfg.TraceBatchSize() != DefaultTraceBatch {
		t.Errorf("TraceBatchSize = %d, want default", cfg.TraceBatchSize())
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := writeConfig(t, `
[store]
quota = "32MiB"
eviction_grace = "5s"

[parser]
max_accumulator = "1MiB"
chunk_timeout = "30s"
report_timeouts = false

[animation]
frame_delay = "50ms"

[cell]
width_px = 10
height_px = 20

[trace]
enabled = true
batch_size = 16
flush_interval = "500ms"
`)
	cfg, err := loadFrom([]string{path})
	if err != nil {
		t.Fatalf("loadFrom: %v", err)
	}
	if cfg.StoreQuota() != 32<<20 {
		t.Errorf("StoreQuota = %d, want 32MiB", cfg.StoreQuota())
	}
	if cfg.EvictionGrace() != 5*time.Second {
		t.Errorf("EvictionGrace = %v, want 5s", cfg.EvictionGrace())
	}
	if cfg.MaxAccumulator() != 1<<20 {
		t.Errorf("MaxAccumulator = %d, want 1MiB", cfg.MaxAccumulator())
	}
	if cfg.ChunkTimeout() != 30*time.Second {
		t.Errorf("ChunkTimeout = %v, want 30s", cfg.ChunkTimeout())
	}
	if cfg.TimeoutReports() {
		t.Error("explicit report_timeouts=false ignored")
	}
	if cfg.FrameDelay() != 50*time.Millisecond {
		t.Errorf("FrameDelay = %v, want 50ms", cfg.FrameDelay())
	}
	if w, h := cfg.CellSize(); w != 10 || h != 20 {
		t.Errorf("CellSize = %dx%d, want 10x20", w, h)
	}
	if !cfg.Trace.Enabled || cfg.TraceBatchSize() != 16 {
		t.Errorf("trace = %+v", cfg.Trace)
	}
	if cfg.TraceFlushInterval() != 500*time.Millisecond {
		t.Errorf("TraceFlushInterval = %v, want 500ms", cfg.TraceFlushInterval())
	}
}

func TestLoadLaterFileWins(t *testing.T) {
	base := writeConfig(t, `[store]
quota = "10MiB"
eviction_grace = "3s"`)
	override := writeConfig(t, `[store]
quota = "20MiB"`)

	cfg, err := loadFrom([]string{base, override})
	if err != nil {
		t.Fatalf("loadFrom: %v", err)
	}
	if cfg.StoreQuota() != 20<<20 {
		t.Errorf("StoreQuota = %d, want the override's 20MiB", cfg.StoreQuota())
	}
	if cfg.EvictionGrace() != 3*time.Second {
		t.Errorf("EvictionGrace = %v, want the base's 3s", cfg.EvictionGrace())
	}
}

func TestLoadSkipsMissingFiles(t *testing.T) {
	cfg, err := loadFrom([]string{"/nonexistent/texelgfx.toml"})
	if err != nil {
		t.Fatalf("missing file should not fail Load: %v", err)
	}
	if cfg.StoreQuota() != DefaultStoreQuota {
		t.Errorf("StoreQuota = %d, want default", cfg.StoreQuota())
	}
}

func TestLoadRejectsBrokenToml(t *testing.T) {
	path := writeConfig(t, "store = [[[")
	if _, err := loadFrom([]string{path}); err == nil {
		t.Error("broken toml loaded without error")
	}
}

func TestBadValuesFallBack(t *testing.T) {
	cfg := &Config{
		Store: StoreConfig{Quota: "lots", EvictionGrace: "soon"},
		Parser: ParserConfig{
			MaxAccumulator: "-5 bananas",
			ChunkTimeout:   "-3s",
		},
		Cell: CellConfig{WidthPx: -1, HeightPx: 0},
	}
	if cfg.StoreQuota() != DefaultStoreQuota {
		t.Errorf("StoreQuota = %d, want default on junk", cfg.StoreQuota())
	}
	if cfg.EvictionGrace() != DefaultEvictionGrace {
		t.Errorf("EvictionGrace = %v, want default on junk", cfg.EvictionGrace())
	}
	if cfg.MaxAccumulator() != DefaultMaxAccumulator {
		t.Errorf("MaxAccumulator = %d, want default on junk", cfg.MaxAccumulator())
	}
	if cfg.ChunkTimeout() != DefaultChunkTimeout {
		t.Errorf("negative ChunkTimeout = %v, want default", cfg.ChunkTimeout())
	}
	if w, h := cfg.CellSize(); w != DefaultCellWidthPx || h != DefaultCellHeightPx {
		t.Errorf("CellSize = %dx%d, want defaults", w, h)
	}
}

func TestSizeSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"100MB", 100 * 1000 * 1000},
		{"100MiB", 100 << 20},
		{"1GiB", 1 << 30},
		{"512", 512},
	}
	for _, c := range cases {
		if got := parseSize(c.in, -1); got != c.want {
			t.Errorf("parseSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestShellCommandResolution(t *testing.T) {
	cfg := &Config{Shell: ShellConfig{Command: "/usr/bin/fish"}}
	if got := cfg.ShellCommand(); got != "/usr/bin/fish" {
		t.Errorf("ShellCommand = %q, want configured value", got)
	}

	cfg = &Config{}
	t.Setenv("SHELL", "/bin/zsh")
	if got := cfg.ShellCommand(); got != "/bin/zsh" {
		t.Errorf("ShellCommand = %q, want $SHELL", got)
	}
	t.Setenv("SHELL", "")
	if got := cfg.ShellCommand(); got != "/bin/sh" {
		t.Errorf("ShellCommand = %q, want /bin/sh fallback", got)
	}
}

func TestConfigPathsOrder(t *testing.T) {
	paths := configPaths()
	if len(paths) != 2 {
		t.Fatalf("paths = %v", paths)
	}
	if paths[len(paths)-1] != appName+".toml" {
		t.Errorf("last path = %q, want the local override", paths[len(paths)-1])
	}
}
