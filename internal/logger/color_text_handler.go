package logger

import (
	"context"
	"io"
	"log/slog"
)

// ANSI escape sequences for the level tag.
const (
	ansiReset  = "\033[0m"
	ansiCyan   = "\033[36m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
)

// ColorTextHandler is a slog.TextHandler whose level tag is colored for
// interactive terminals.
type ColorTextHandler struct {
	*slog.TextHandler
	showTime bool
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		showTime:    showTime,
	}
}

// Handle prefixes the record message with a colored level tag and hands
// the record to the embedded text handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	color := ansiReset
	switch r.Level {
	case slog.LevelDebug:
		color = ansiCyan
	case slog.LevelInfo:
		color = ansiGreen
	case slog.LevelWarn:
		color = ansiYellow
	case slog.LevelError:
		color = ansiRed
	}
	r.Message = color + r.Level.String() + ansiReset + "  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}
