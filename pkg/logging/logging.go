package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

type Fields struct {
	Service    string `json:"service"`
	TxID       string `json:"txid,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`
}

var logger atomic.Pointer[slog.Logger]

func init() {
	SetOutput(os.Stderr)
}

// SetOutput sends JSON log lines to w. The TUI points this at a file so logs
// do not draw over the screen.
func SetOutput(w io.Writer) {
	logger.Store(slog.New(slog.NewJSONHandler(w, nil)))
}

// SetLogger replaces the underlying logger.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

func Log(fields Fields) {
	emit(slog.LevelInfo, fields)
}

func Error(fields Fields) {
	emit(slog.LevelError, fields)
}

func emit(level slog.Level, fields Fields) {
	attrs := []slog.Attr{slog.String("service", fields.Service)}
	if fields.TxID != "" {
		attrs = append(attrs, slog.String("txid", fields.TxID))
	}
	if fields.EventID != "" {
		attrs = append(attrs, slog.String("event_id", fields.EventID))
	}
	if fields.Step != "" {
		attrs = append(attrs, slog.String("step", fields.Step))
	}
	if fields.Status != "" {
		attrs = append(attrs, slog.String("status", fields.Status))
	}
	if fields.DurationMS != 0 {
		attrs = append(attrs, slog.Int64("duration_ms", fields.DurationMS))
	}
	msg := fields.Message
	if msg == "" {
		msg = fields.Step
	}
	logger.Load().LogAttrs(context.Background(), level, msg, attrs...)
}
