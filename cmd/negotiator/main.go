// Negotiator serves the freight negotiation API, the operator MCP endpoint and
// the background agent dispatcher.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/loadline/negotiator/internal/policy"
)

// Version is set by -ldflags at build time.
var Version = "dev"

const logPrefix = "[negotiator] "

func main() {
	opts := &Options{}
	if _, err := newParser(opts).Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Println(err)
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogger returns a logger writing to logFilePath and, when stderr is an
// interactive terminal or no file could be opened, to stderr. The returned
// func closes the file.
func setupLogger(logFilePath string) (*log.Logger, func()) {
	var (
		writers []io.Writer
		file    *os.File
	)

	interactive := false
	if info, err := os.Stderr.Stat(); err == nil {
		interactive = info.Mode()&os.ModeCharDevice != 0
	}

	switch strings.ToLower(logFilePath) {
	case "", "none", "off":
	default:
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "%sWarning: cannot create log dir %s: %v\n", logPrefix, filepath.Dir(logFilePath), err)
			break
		}
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%sWarning: cannot open log file %s: %v\n", logPrefix, logFilePath, err)
			break
		}
		file = f
		writers = append(writers, f)
	}

	if interactive || file == nil {
		writers = append(writers, os.Stderr)
	}

	logger := log.New(io.MultiWriter(writers...), logPrefix, log.LstdFlags|log.Lshortfile)
	return logger, func() {
		if file != nil {
			_ = file.Close()
		}
	}
}

// loadConfig reads the YAML config at path, or returns defaults when path is empty.
func loadConfig(path string) (*policy.Config, error) {
	if path == "" {
		return policy.DefaultConfig(), nil
	}
	cfg, err := policy.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
