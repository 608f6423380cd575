package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Format selects how records are encoded.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat maps a configured format name to a Format. The empty string
// selects JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "text", "console":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown log format %q", s)
}

// Config configures New.
type Config struct {
	Level  string
	Format string

	// Output defaults to os.Stderr.
	Output    io.Writer
	AddSource bool
}

// Logger is a *slog.Logger built by New.
type Logger struct {
	*slog.Logger
}

// New builds a logger and sets the shared level to cfg.Level.
func New(cfg Config) (*Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level.Set(lvl)
	return &Logger{Logger: slog.New(newHandler(out, format, cfg.AddSource))}, nil
}

func newHandler(out io.Writer, format Format, addSource bool) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   addSource,
		ReplaceAttr: redact,
	}
	var h slog.Handler
	if format == FormatText {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return connIDHandler{Handler: h}
}

// Slog returns the underlying *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger
}

var std atomic.Pointer[Logger]

func init() {
	std.Store(&Logger{Logger: slog.New(newHandler(os.Stderr, FormatJSON, false))})
}

// SetDefault makes l the package default and the slog default.
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	std.Store(l)
	slog.SetDefault(l.Logger)
}

// Default returns the logger last passed to SetDefault, or a JSON logger
// on stderr.
func Default() *Logger {
	return std.Load()
}
