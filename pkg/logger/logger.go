// Copyright 2025 Kadir Pekel
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

// Package logger configures the process-wide slog logger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/term"
)

const modulePrefix = "github.com/kadirpekel/lettergate"

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
)

// Format selects how records are rendered.
type Format string

const (
	FormatSimple  Format = "simple"
	FormatVerbose Format = "verbose"
	FormatJSON    Format = "json"
)

// ParseLevel converts a string log level to slog.Level.
// Unknown values fall back to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs the default logger.
//
// Records from outside this module are dropped unless level is debug.
// Simple and verbose formats are colorized when output is a terminal.
func Init(level slog.Level, output io.Writer, format string) *slog.Logger {
	var handler slog.Handler

	switch Format(format) {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	case FormatVerbose:
		handler = &lineHandler{out: output, level: level, color: isTerminal(output), timestamps: true, mu: &sync.Mutex{}}
	default:
		handler = &lineHandler{out: output, level: level, color: isTerminal(output), mu: &sync.Mutex{}}
	}

	logger := slog.New(&moduleFilter{next: handler, minLevel: level})

	mu.Lock()
	defaultLogger = logger
	mu.Unlock()

	slog.SetDefault(logger)
	return logger
}

// GetLogger returns the default logger, initializing it at info level if needed.
func GetLogger() *slog.Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l == nil {
		return Init(slog.LevelInfo, os.Stderr, string(FormatSimple))
	}
	return l
}

// OpenLogFile opens path for appending and returns a cleanup func.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// moduleFilter hides third-party records below debug.
type moduleFilter struct {
	next     slog.Handler
	minLevel slog.Level
}

func (h *moduleFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.next.Enabled(ctx, level)
}

func (h *moduleFilter) Handle(ctx context.Context, r slog.Record) error {
	if h.minLevel > slog.LevelDebug && !fromModule(r.PC) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *moduleFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &moduleFilter{next: h.next.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *moduleFilter) WithGroup(name string) slog.Handler {
	return &moduleFilter{next: h.next.WithGroup(name), minLevel: h.minLevel}
}

func fromModule(pc uintptr) bool {
	if pc == 0 {
		// slog.Default().Log without a caller, keep it
		return true
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	if strings.HasPrefix(fn.Name(), modulePrefix) {
		return true
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(file, "/lettergate/")
}

// lineHandler renders "LEVEL message key=value" lines.
type lineHandler struct {
	out        io.Writer
	level      slog.Level
	color      bool
	timestamps bool
	attrs      []slog.Attr
	group      string
	mu         *sync.Mutex
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	if h.timestamps && !r.Time.IsZero() {
		b.WriteString(r.Time.Format("2006/01/02 15:04:05 "))
	}

	lvl := levelLabel(r.Level)
	if h.color {
		b.WriteString(levelColor(r.Level))
		b.WriteString(lvl)
		b.WriteString("\033[0m")
	} else {
		b.WriteString(lvl)
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, h.group, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &c
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	c := *h
	if c.group != "" {
		c.group += "." + name
	} else {
		c.group = name
	}
	return &c
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	if group != "" {
		b.WriteString(group)
		b.WriteByte('.')
	}
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.Resolve().String())
}

func levelLabel(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m"
	case l >= slog.LevelWarn:
		return "\033[33m"
	case l >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}
