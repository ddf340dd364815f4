package statuslog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

const defaultLoggerName = "solaranalyzer"

// Attribute keys lifted out of the attrs blob into their own columns.
const (
	LoggerKey    = "logger"
	RequestIDKey = "requestID"
)

// Handler returns a slog.Handler that emits records at or above level to w.
func (w *Writer) Handler(level slog.Leveler) slog.Handler {
	return &handler{w: w, level: level}
}

type handler struct {
	w      *Writer
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	e := types.LogEntry{
		Timestamp: r.Time.UTC(),
		Level:     r.Level.String(),
		Logger:    defaultLoggerName,
		Message:   r.Message,
	}
	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := frames.Next()
		if f.File != "" {
			e.Source = fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
	}

	fields := map[string]any{}
	add := func(prefix string, a slog.Attr) {
		switch {
		case prefix == "" && a.Key == LoggerKey:
			e.Logger = a.Value.String()
		case prefix == "" && a.Key == RequestIDKey:
			e.RequestID = a.Value.String()
		default:
			addAttr(fields, prefix, a)
		}
	}
	// attrs added with WithAttrs belong to the groups open at that time,
	// which are recorded in their keys already
	for _, a := range h.attrs {
		add("", a)
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		add(prefix, a)
		return true
	})

	if len(fields) > 0 {
		b, err := json.Marshal(fields)
		if err != nil {
			b, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
		}
		e.Attrs = b
	}

	h.w.Emit(e)
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := strings.Join(h.groups, ".")
	next := *h
	next.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

// addAttr flattens a into fields using dotted keys for groups.
func addAttr(fields map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(fields, key, ga)
		}
		return
	}
	switch v := a.Value.Any().(type) {
	case error:
		fields[key] = v.Error()
	case fmt.Stringer:
		fields[key] = v.String()
	default:
		fields[key] = v
	}
}
