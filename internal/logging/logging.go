// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/chatterm/internal/config"
	"github.com/jeranaias/chatterm/internal/util"
)

// Options describe where log lines go.
type Options struct {
	Level   string    // debug, info, warn, error
	File    string    // JSON lines are appended here unless Console is set
	Console bool      // human-readable output on Stderr
	Stderr  io.Writer // defaults to os.Stderr
}

// FromConfig builds Options from the [log] section.
func FromConfig(cfg *config.Config) (Options, error) {
	opts := Options{Level: cfg.Log.Level, Console: cfg.Log.Console}
	if !opts.Console {
		path, err := cfg.LogPath()
		if err != nil {
			return Options{}, err
		}
		opts.File = path
	}
	return opts, nil
}

// ParseLevel maps a config level name to a zerolog level. Unknown names
// fall back to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds a logger from opts. The returned closer releases the log file
// and is never nil.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level := ParseLevel(opts.Level)

	if opts.Console || opts.File == "" {
		w := opts.Stderr
		if w == nil {
			w = os.Stderr
		}
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		return zerolog.New(cw).Level(level).With().Timestamp().Logger(), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), util.PrivateDirPerm); err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, util.PrivateFilePerm)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to open log file: %w", err)
	}
	return zerolog.New(f).Level(level).With().Timestamp().Logger(), f, nil
}

// Setup installs the logger described by cfg as the global log.Logger and
// returns a closer for the underlying file.
//
// The TUI owns the terminal, so file output is the default.
func Setup(cfg *config.Config) (io.Closer, error) {
	opts, err := FromConfig(cfg)
	if err != nil {
		return nopCloser{}, err
	}
	logger, closer, err := New(opts)
	if err != nil {
		return closer, err
	}
	log.Logger = logger
	return closer, nil
}

// Discard silences the global logger. Used by one-shot commands whose
// stdout is the product.
func Discard() {
	log.Logger = zerolog.Nop()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
