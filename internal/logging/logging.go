// Package logging configures the slog loggers used across chatline.
//
// Records go to the console (stderr by default) and, optionally, to a
// rotating log file. Each sink has its own level, so the file can keep debug
// detail while the terminal only shows warnings. Loggers obtained through the
// component helpers can be silenced per component with Config.Components.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/samber/lo"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names accepted by --log-components.
const (
	ComponentConnection = "connection"
	ComponentAuth       = "auth"
	ComponentCLI        = "cli"
)

// Rotation defaults for FileLogConfig.
const (
	DefaultMaxSizeMB  = 5
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 28
)

// FileLogConfig enables a rotating log file.
type FileLogConfig struct {
	Path string

	// Zero values take the Default* rotation settings.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Compress gzips rotated files.
	Compress bool
}

// Config holds logging configuration.
type Config struct {
	// Level is the console level: debug, info, warn or error.
	Level string
	// FileLevel is the file level. Empty means Level.
	FileLevel string
	FileLog   *FileLogConfig
	// Console defaults to os.Stderr.
	Console io.Writer
	JSON    bool
	// Components limits output to these components. Empty means all.
	Components []string
}

// state is everything Initialize replaces.
type state struct {
	logger  *slog.Logger
	file    *lumberjack.Logger
	allowed map[string]struct{} // nil allows every component
}

var (
	mu      sync.RWMutex
	current state
)

// Initialize installs a new global logger built from cfg and makes it the
// slog default. A previously opened log file is closed.
func Initialize(cfg Config) error {
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	consoleLevel := parseLevel(cfg.Level)
	fileLevel := consoleLevel
	if cfg.FileLevel != "" {
		fileLevel = parseLevel(cfg.FileLevel)
	}

	next := state{}
	if len(cfg.Components) > 0 {
		next.allowed = lo.SliceToMap(cfg.Components, func(c string) (string, struct{}) {
			return strings.ToLower(strings.TrimSpace(c)), struct{}{}
		})
	}

	sinks := []sink{{handler: newHandler(console, consoleLevel, cfg.JSON), level: consoleLevel}}
	if fl := cfg.FileLog; fl != nil && fl.Path != "" {
		next.file = &lumberjack.Logger{
			Filename:   fl.Path,
			MaxSize:    orDefault(fl.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: orDefault(fl.MaxBackups, DefaultMaxBackups),
			MaxAge:     orDefault(fl.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   fl.Compress,
		}
		sinks = append(sinks, sink{handler: newHandler(next.file, fileLevel, cfg.JSON), level: fileLevel})
	}

	var handler slog.Handler = sinks[0].handler
	if len(sinks) > 1 {
		handler = &teeHandler{sinks: sinks}
	}
	next.logger = slog.New(handler)

	mu.Lock()
	prev := current.file
	current = next
	mu.Unlock()

	slog.SetDefault(next.logger)
	if prev != nil {
		return prev.Close()
	}
	return nil
}

func newHandler(w io.Writer, level slog.Level, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Get returns the global logger, or slog.Default() before Initialize.
func Get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if current.logger == nil {
		return slog.Default()
	}
	return current.logger
}

// Close flushes and closes the log file, if any. Console logging keeps
// working; file records written afterwards reopen the file.
func Close() error {
	mu.Lock()
	file := current.file
	mu.Unlock()
	if file == nil {
		return nil
	}
	return file.Close()
}

// parseLevel maps a level name to a slog level. Unknown names mean info.
func parseLevel(level string) slog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func allowed(component string) bool {
	mu.RLock()
	defer mu.RUnlock()
	if current.allowed == nil {
		return true
	}
	_, ok := current.allowed[component]
	return ok
}

// sink is one destination with its own minimum level.
type sink struct {
	handler slog.Handler
	level   slog.Level
}

// teeHandler writes each record to every sink whose level admits it.
type teeHandler struct {
	sinks []sink
}

func (h *teeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return lo.SomeBy(h.sinks, func(s sink) bool { return level >= s.level })
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range h.sinks {
		if r.Level >= s.level {
			errs = append(errs, s.handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{sinks: lo.Map(h.sinks, func(s sink, _ int) sink {
		return sink{handler: s.handler.WithAttrs(attrs), level: s.level}
	})}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{sinks: lo.Map(h.sinks, func(s sink, _ int) sink {
		return sink{handler: s.handler.WithGroup(name), level: s.level}
	})}
}

// componentHandler drops every record while its component is filtered out.
// The check runs per record, so a later Initialize takes effect on loggers
// created earlier.
type componentHandler struct {
	slog.Handler
	component string
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return allowed(h.component) && h.Handler.Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	if !allowed(h.component) {
		return nil
	}
	return h.Handler.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentHandler{Handler: h.Handler.WithAttrs(attrs), component: h.component}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{Handler: h.Handler.WithGroup(name), component: h.component}
}

// WithComponent returns a logger tagged with component=<name>.
func WithComponent(component string) *slog.Logger {
	inner := Get().Handler().WithAttrs([]slog.Attr{slog.String("component", component)})
	return slog.New(&componentHandler{Handler: inner, component: component})
}

// Connection returns the channel lifecycle logger.
func Connection() *slog.Logger { return WithComponent(ComponentConnection) }

// Auth returns the session logger.
func Auth() *slog.Logger { return WithComponent(ComponentAuth) }

// CLI returns the command-line logger.
func CLI() *slog.Logger { return WithComponent(ComponentCLI) }

// WithChannel tags base with one dial's channel id and room.
func WithChannel(base *slog.Logger, channelID string, roomID int) *slog.Logger {
	if base == nil {
		return nil
	}
	return base.With("channel_id", channelID, "room_id", roomID)
}
