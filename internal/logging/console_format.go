package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

const consoleTimeLayout = "2006-01-02 15:04:05"

// linePrefix renders the "component/stage item:" lead of a console line.
// Empty parts are dropped; the colon follows whatever is present.
func linePrefix(component, stage, itemID string) string {
	scope := component
	if stage != "" {
		if scope != "" {
			scope += "/"
		}
		scope += stage
	}
	switch {
	case scope != "" && itemID != "":
		return scope + " " + itemID + ": "
	case scope != "":
		return scope + ": "
	case itemID != "":
		return itemID + ": "
	default:
		return ""
	}
}

// plainValue renders v without quoting, for fields lifted into the prefix.
func plainValue(v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindString {
		return strings.TrimSpace(v.String())
	}
	return strings.TrimSpace(renderValue(v))
}

// quotedValue renders v for the trailing key=value list, quoting anything a
// log reader would otherwise split on.
func quotedValue(v slog.Value) string {
	v = v.Resolve()
	s := renderValue(v)
	if v.Kind() == slog.KindString || v.Kind() == slog.KindAny {
		if s == "" || strings.ContainsFunc(s, splitsField) {
			return strconv.Quote(s)
		}
	}
	return s
}

func renderValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindTime:
		if v.Time().IsZero() {
			return ""
		}
		return v.Time().Local().Format(consoleTimeLayout)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		// bool, ints and durations already print the way we want.
		return v.String()
	}
}

func splitsField(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}
