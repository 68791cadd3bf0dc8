// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log provides leveled diagnostic logging gated by the QTRUNNER_LOG
// environment variable, in the spirit of RUST_LOG: unset or empty means
// silent (errors only), "debug" enables the chattiest level.
package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var (
	once    sync.Once
	logger  *slog.Logger
	verbose int
)

func initLogger() {
	level := slog.LevelError
	switch strings.ToLower(strings.TrimSpace(os.Getenv("QTRUNNER_LOG"))) {
	case "debug", "trace":
		level, verbose = slog.LevelDebug, 2
	case "info":
		level, verbose = slog.LevelInfo, 1
	case "warn", "warning":
		level = slog.LevelWarn
	case "error", "":
		level = slog.LevelError
	default:
		level, verbose = slog.LevelInfo, 1
	}
	logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// Logf logs a message at the given verbosity. Verbosities 0 and 1 are
// emitted once logging is at info level or above; verbosity 2 requires
// QTRUNNER_LOG=debug.
func Logf(v int, format string, args ...any) {
	once.Do(initLogger)
	if v > verbose {
		return
	}
	logger.Info(fmt.Sprintf(format, args...))
}

// Errorf logs an error-level diagnostic.
func Errorf(format string, args ...any) {
	once.Do(initLogger)
	logger.Error(fmt.Sprintf(format, args...))
}

// Warnf logs a warn-level diagnostic.
func Warnf(format string, args ...any) {
	once.Do(initLogger)
	logger.Warn(fmt.Sprintf(format, args...))
}

// With returns a logger scoped with the given key/value attributes, for
// call sites that want structured fields instead of a formatted string.
func With(args ...any) *slog.Logger {
	once.Do(initLogger)
	return logger.With(args...)
}
