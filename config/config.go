// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: config/config.go
// Summary: TOML configuration for the graphics terminal: store quota,
//          parser bounds, animation pacing, cell metrics, tracing.
// Usage: cfg, err := config.Load(); accessors apply defaults, so callers
//        never see a zero limit from a sparse file.
// Notes: Sizes are human strings ("64MiB", "100MB"), durations go through
//        time.ParseDuration. Bad values fall back to the default rather
//        than failing startup.

package config

import (
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Defaults applied when a key is absent or unparseable.
const (
	DefaultStoreQuota     = 100 << 20
	DefaultEvictionGrace  = 10 * time.Second
	DefaultMaxAccumulator = 64 << 20
	DefaultMaxInflated    = 256 << 20
	DefaultChunkTimeout   = 10 * time.Second
	DefaultFrameDelay     = 100 * time.Millisecond
	DefaultCellWidthPx    = 8
	DefaultCellHeightPx   = 16
	DefaultTraceBatch     = 64
	DefaultTraceFlush     = 2 * time.Second
)

type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Parser    ParserConfig    `koanf:"parser"`
	Animation AnimationConfig `koanf:"animation"`
	Cell      CellConfig      `koanf:"cell"`
	Trace     TraceConfig     `koanf:"trace"`
	Log       LogConfig       `koanf:"log"`
	Shell     ShellConfig     `koanf:"shell"`
}

// StoreConfig bounds the image store.
type StoreConfig struct {
	Quota         string `koanf:"quota"`          // total pixel-data budget, e.g. "100MiB"
	EvictionGrace string `koanf:"eviction_grace"` // how long recent use blocks eviction
}

// ParserConfig bounds chunked transfers.
type ParserConfig struct {
	MaxAccumulator string `koanf:"max_accumulator"` // encoded-payload cap per transfer
	MaxInflated    string `koanf:"max_inflated"`    // post-zlib cap
	ChunkTimeout   string `koanf:"chunk_timeout"`   // idle deadline between chunks
	ReportTimeouts *bool  `koanf:"report_timeouts"` // answer expired transfers with ETIMEDOUT
}

type AnimationConfig struct {
	FrameDelay string `koanf:"frame_delay"` // fallback when a frame has no gap
}

// CellConfig is the pixel geometry of one terminal cell, matching the
// font the hosting terminal renders with.
type CellConfig struct {
	WidthPx  int `koanf:"width_px"`
	HeightPx int `koanf:"height_px"`
}

// TraceConfig controls the optional SQLite event trace.
type TraceConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Path          string `koanf:"path"` // empty: under the XDG data dir
	BatchSize     int    `koanf:"batch_size"`
	FlushInterval string `koanf:"flush_interval"`
}

type LogConfig struct {
	File string `koanf:"file"` // empty: under the XDG state dir
}

type ShellConfig struct {
	Command string `koanf:"command"` // empty: $SHELL, then /bin/sh
}

// Load reads every config file that exists, later files overriding earlier
// ones, and returns the merged result. A missing file is not an error; a
// file that exists but does not parse is.
func Load() (*Config, error) {
	return loadFrom(configPaths())
}

func loadFrom(paths []string) (*Config, error) {
	k := koanf.New(".")
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, err
		}
	}
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseSize reads a human byte size, falling back on empty or bad input.
func parseSize(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fallback
	}
	return int64(n)
}

func parseDur(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func (c *Config) StoreQuota() int64 {
	return parseSize(c.Store.Quota, DefaultStoreQuota)
}

func (c *Config) EvictionGrace() time.Duration {
	return parseDur(c.Store.EvictionGrace, DefaultEvictionGrace)
}

func (c *Config) MaxAccumulator() int64 {
	return parseSize(c.Parser.MaxAccumulator, DefaultMaxAccumulator)
}

func (c *Config) MaxInflated() int64 {
	return parseSize(c.Parser.MaxInflated, DefaultMaxInflated)
}

func (c *Config) ChunkTimeout() time.Duration {
	return parseDur(c.Parser.ChunkTimeout, DefaultChunkTimeout)
}

// TimeoutReports defaults to on; only an explicit false disables it.
func (c *Config) TimeoutReports() bool {
	if c.Parser.ReportTimeouts == nil {
		return true
	}
	return *c.Parser.ReportTimeouts
}

func (c *Config) FrameDelay() time.Duration {
	return parseDur(c.Animation.FrameDelay, DefaultFrameDelay)
}

func (c *Config) CellSize() (w, h int) {
	w, h = c.Cell.WidthPx, c.Cell.HeightPx
	if w <= 0 {
		w = DefaultCellWidthPx
	}
	if h <= 0 {
		h = DefaultCellHeightPx
	}
	return w, h
}

func (c *Config) TraceBatchSize() int {
	if c.Trace.BatchSize <= 0 {
		return DefaultTraceBatch
	}
	return c.Trace.BatchSize
}

func (c *Config) TraceFlushInterval() time.Duration {
	return parseDur(c.Trace.FlushInterval, DefaultTraceFlush)
}

// ShellCommand resolves the command the embedded pty should run.
func (c *Config) ShellCommand() string {
	if c.Shell.Command != "" {
		return c.Shell.Command
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
