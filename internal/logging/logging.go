// Package logging builds the daemon's structured logger: a colored
// console sink for interactive runs, an append-only plaintext file
// sink (the daemon points it at shipit.stdout), and a zerolog JSON sink for
// machine-readable audit consumption. All three receive every record
// through a fanout handler.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	reset  = "\033[0m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	gray   = "\033[37m"
)

// ConsoleHandler renders records as short colored lines for a human
// watching the daemon run in a terminal.
type ConsoleHandler struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleHandler(out io.Writer) *ConsoleHandler {
	return &ConsoleHandler{out: out}
}

func (h *ConsoleHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	color := reset
	switch r.Level {
	case slog.LevelDebug:
		color = gray
	case slog.LevelInfo:
		color = green
	case slog.LevelWarn:
		color = yellow
	case slog.LevelError:
		color = red
	}

	var attrs string
	r.Attrs(func(a slog.Attr) bool {
		attrs += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
		return true
	})

	line := fmt.Sprintf("%s%s%s [%s] %s%s\n", color, r.Level.String()[:4], reset,
		r.Time.Format(time.TimeOnly), r.Message, attrs)
	_, err := h.out.Write([]byte(line))
	return err
}

func (h *ConsoleHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *ConsoleHandler) WithGroup(string) slog.Handler      { return h }

// ZerologHandler adapts zerolog's structured JSON writer to slog.Handler,
// used as the audit-grade sink consumed by log aggregation.
type ZerologHandler struct {
	logger zerolog.Logger
	attrs  []slog.Attr
}

func NewZerologHandler(out io.Writer) *ZerologHandler {
	return &ZerologHandler{logger: zerolog.New(out).With().Timestamp().Logger()}
}

func (h *ZerologHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *ZerologHandler) Handle(ctx context.Context, r slog.Record) error {
	var ev *zerolog.Event
	switch {
	case r.Level >= slog.LevelError:
		ev = h.logger.Error()
	case r.Level >= slog.LevelWarn:
		ev = h.logger.Warn()
	case r.Level >= slog.LevelInfo:
		ev = h.logger.Info()
	default:
		ev = h.logger.Debug()
	}

	for _, a := range h.attrs {
		ev = ev.Interface(a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = ev.Interface(a.Key, a.Value.Any())
		return true
	})
	ev.Msg(r.Message)
	return nil
}

func (h *ZerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	combined := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	combined = append(combined, h.attrs...)
	combined = append(combined, attrs...)
	return &ZerologHandler{logger: h.logger, attrs: combined}
}

func (h *ZerologHandler) WithGroup(string) slog.Handler { return h }

// FanoutHandler dispatches every record to all of its child handlers.
type FanoutHandler struct {
	handlers []slog.Handler
}

func NewFanoutHandler(handlers ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{handlers: handlers}
}

func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		_ = handler.Handle(ctx, r.Clone())
	}
	return nil
}

func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: next}
}

func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &FanoutHandler{handlers: next}
}

// New builds the daemon logger: console output plus a plaintext file
// sink plus a zerolog JSON sink, fanned out to every record.
func New(consoleOut io.Writer, fileOut io.Writer, auditOut io.Writer) *slog.Logger {
	handlers := []slog.Handler{NewConsoleHandler(consoleOut)}
	if fileOut != nil {
		handlers = append(handlers, slog.NewTextHandler(fileOut, nil))
	}
	if auditOut != nil {
		handlers = append(handlers, NewZerologHandler(auditOut))
	}
	return slog.New(NewFanoutHandler(handlers...))
}
