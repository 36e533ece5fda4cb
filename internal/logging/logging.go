// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package logging builds the process-wide slog handler from LogConfig.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/phsym/console-slog"

	"github.com/ffutop/watlow/internal/config"
)

// Level maps a configured level name to a slog level. Unknown names are
// treated as info.
func Level(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Setup installs the default logger. Records go to cfg.File, or to stderr
// when the file is empty, "-" or cannot be opened. The returned func
// closes the log file.
func Setup(cfg config.LogConfig, stderr io.Writer) func() error {
	w := stderr
	closer := func() error { return nil }
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to open log file, falling back to stderr: %v\n", err)
		} else {
			w = f
			closer = f.Close
		}
	}

	slog.SetDefault(slog.New(NewHandler(cfg.Format, Level(cfg.Level), w)))
	return closer
}

// NewHandler returns a text, json or console handler writing to w.
func NewHandler(format string, level slog.Level, w io.Writer) slog.Handler {
	switch format {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "console":
		return console.NewHandler(w, &console.HandlerOptions{Level: level})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
}
