package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler renders one line per record:
//
//	2026-01-02 15:04:05 INFO  pipeline/transfer clips/a.mov: uploaded key=a.mp4
//
// component, stage and item_id are lifted into the line prefix and omitted
// from the trailing key=value list. A later value for a key replaces an
// earlier one in place.
type prettyHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     slog.Leveler
	addSource bool

	fields []field
	group  string
}

type field struct {
	key   string
	value slog.Value
}

func newPrettyHandler(w io.Writer, level slog.Leveler, addSource bool) slog.Handler {
	return &prettyHandler{mu: &sync.Mutex{}, w: w, level: level, addSource: addSource}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make([]field, 0, len(h.fields)+record.NumAttrs())
	fields = append(fields, h.fields...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendField(fields, h.group, attr)
		return true
	})

	var component, stage, itemID string
	rest := fields[:0:0]
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			component = plainValue(f.value)
		case FieldStage:
			stage = plainValue(f.value)
		case FieldItemID:
			itemID = plainValue(f.value)
		default:
			rest = setField(rest, f)
		}
	}

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString(ts.Local().Format(consoleTimeLayout))
	b.WriteByte(' ')
	b.WriteString(levelLabel(record.Level))
	b.WriteByte(' ')
	b.WriteString(linePrefix(component, stage, itemID))
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	b.WriteString(msg)
	if h.addSource {
		if src := record.Source(); src != nil && src.File != "" {
			b.WriteString(" [" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line) + "]")
		}
	}
	for _, f := range rest {
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(quotedValue(f.value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.fields = make([]field, 0, len(h.fields)+len(attrs))
	next.fields = append(next.fields, h.fields...)
	for _, attr := range attrs {
		next.fields = appendField(next.fields, h.group, attr)
	}
	return &next
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = joinKey(h.group, name)
	return &next
}

// appendField flattens groups into dotted keys.
func appendField(dst []field, group string, attr slog.Attr) []field {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	if attr.Value.Kind() == slog.KindGroup {
		inner := group
		if attr.Key != "" {
			inner = joinKey(group, attr.Key)
		}
		for _, a := range attr.Value.Group() {
			dst = appendField(dst, inner, a)
		}
		return dst
	}
	return append(dst, field{key: joinKey(group, attr.Key), value: attr.Value})
}

func setField(fields []field, f field) []field {
	for i := range fields {
		if fields[i].key == f.key {
			fields[i] = f
			return fields
		}
	}
	return append(fields, f)
}

func joinKey(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN "
	case level >= slog.LevelInfo:
		return "INFO "
	default:
		return "DEBUG"
	}
}
