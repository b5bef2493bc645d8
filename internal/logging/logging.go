// Package logging wires up the archiver's structured logger: a
// colorless terminal handler plus an optional rotating file sink.
// Modeled on turbo/logging's initSeparatedLogging, trimmed to the one
// call site this program needs (no cobra/urfave flag plumbing here —
// cmd/archivenode owns that).
package logging

import (
	"os"
	"path/filepath"

	"github.com/ledgerwatch/log/v3"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger returned by New.
type Options struct {
	// ConsoleLevel filters what reaches stderr.
	ConsoleLevel log.Lvl
	// FileLevel filters what reaches the rotating log file. Ignored
	// when DirPath is empty.
	FileLevel log.Lvl
	// DirPath, if non-empty, enables file logging under this
	// directory with the given FilePrefix.
	DirPath    string
	FilePrefix string
}

// New builds a root-style logger per Options. Mirrors the
// console-only / console+file split in turbo/logging/logging.go.
func New(opts Options) log.Logger {
	logger := log.New()

	consoleHandler := log.LvlFilterHandler(opts.ConsoleLevel, log.StreamHandler(os.Stderr, log.TerminalFormatNoColor()))
	logger.SetHandler(consoleHandler)

	if opts.DirPath == "" {
		return logger
	}

	if err := os.MkdirAll(opts.DirPath, 0o764); err != nil {
		logger.Warn("failed to create log dir, console logging only", "dir", opts.DirPath, "err", err)
		return logger
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(opts.DirPath, opts.FilePrefix+".log"),
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	fileHandler := log.LvlFilterHandler(opts.FileLevel, log.StreamHandler(rotator, log.TerminalFormatNoColor()))
	logger.SetHandler(log.MultiHandler(consoleHandler, fileHandler))
	logger.Info("logging to file system", "dir", opts.DirPath, "prefix", opts.FilePrefix)
	return logger
}
