// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: cmd/gfxterm/main.go
// Summary: Demo terminal host wiring the graphics engine to a pty shell
//          and a tcell display.
// Usage: Run `gfxterm` inside any terminal. `gfxterm -probe` reports
//        whether the hosting terminal itself speaks kitty graphics.

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/term"

	"github.com/framegrace/texelgfx/config"
	"github.com/framegrace/texelgfx/graphics"
	"github.com/framegrace/texelgfx/internal/host"
	"github.com/framegrace/texelgfx/kitty"
	"github.com/framegrace/texelgfx/trace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("gfxterm", flag.ContinueOnError)
	probe := fs.Bool("probe", false, "Ask the hosting terminal whether it supports kitty graphics, then exit")
	shell := fs.String("shell", "", "Command to run in the embedded terminal (default: config, then $SHELL)")
	traceOn := fs.Bool("trace", false, "Record graphics events to the SQLite trace even if the config leaves it off")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}

	if *probe {
		return runProbe()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Stdout belongs to the tcell screen once the host runs, so the log
	// goes to a file or nowhere.
	logFile, err := setupLogging(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging disabled: %v\n", err)
	} else {
		defer logFile.Close()
	}
	log.Println("gfxterm starting")

	opts, cleanup, err := engineOptions(cfg, *traceOn)
	if err != nil {
		return err
	}
	defer cleanup()

	command := cfg.ShellCommand()
	if *shell != "" {
		command = *shell
	}

	err = host.Run(host.Config{
		Shell:         command,
		EngineOptions: opts,
	})
	if err != nil {
		log.Printf("host exited with error: %v", err)
		return err
	}
	log.Println("gfxterm stopped cleanly")
	return nil
}

// engineOptions turns the merged config into engine wiring. The returned
// cleanup flushes and closes the trace recorder, if one was opened.
func engineOptions(cfg *config.Config, forceTrace bool) ([]graphics.EngineOption, func(), error) {
	store := graphics.NewImageStore(
		graphics.WithQuota(cfg.StoreQuota()),
		graphics.WithEvictionGrace(cfg.EvictionGrace()),
	)
	parser := kitty.NewParser(kitty.WithLimits(kitty.Limits{
		MaxAccumulator: cfg.MaxAccumulator(),
		MaxInflated:    cfg.MaxInflated(),
		ChunkTimeout:   cfg.ChunkTimeout(),
	}))
	cellW, cellH := cfg.CellSize()

	opts := []graphics.EngineOption{
		graphics.WithStore(store),
		graphics.WithParser(parser),
		graphics.WithCellMetrics(cellW, cellH),
		graphics.WithFrameDelay(cfg.FrameDelay()),
		graphics.WithFileSizeCap(cfg.MaxAccumulator()),
		graphics.WithTimeoutReports(cfg.TimeoutReports()),
	}

	cleanup := func() {}
	if forceTrace || cfg.Trace.Enabled {
		path, err := cfg.TracePath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve trace path: %w", err)
		}
		rec, err := trace.OpenWithConfig(trace.Config{
			DBPath:        path,
			BatchSize:     cfg.TraceBatchSize(),
			FlushInterval: cfg.TraceFlushInterval(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open trace %s: %w", path, err)
		}
		opts = append(opts, graphics.WithRecorder(rec))
		cleanup = func() {
			if err := rec.Close(); err != nil {
				log.Printf("close trace: %v", err)
			}
		}
		log.Printf("tracing graphics events to %s", path)
	}
	return opts, cleanup, nil
}

func runProbe() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("stdin is not a terminal")
	}
	res, err := host.Probe(os.Stdin, os.Stdout, 2*time.Second)
	if err != nil {
		return err
	}
	if res.Kitty {
		fmt.Println("kitty graphics: supported")
	} else {
		fmt.Println("kitty graphics: not detected")
	}
	return nil
}

func setupLogging(cfg *config.Config) (*os.File, error) {
	path, err := cfg.LogFile()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	log.SetOutput(file)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return file, nil
}
