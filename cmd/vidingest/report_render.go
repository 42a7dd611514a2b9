package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"vidingest/internal/ingest"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 12
	statusIndent     = "  "
	detailWidth      = 72
)

// renderReport writes a human summary of a finished run. Items that did not
// succeed are listed individually; successes are only counted.
func renderReport(w io.Writer, report *ingest.RunReport, colorize bool) {
	if report == nil {
		return
	}
	title := fmt.Sprintf("Run %s (%s)", shortID(report.RunID), report.Mode)
	for _, line := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(w, line)
	}
	counts := report.Counts()
	if report.Source != "" {
		fmt.Fprintln(w, renderStatusLine("Source", statusInfo, report.Source, colorize))
	}
	fmt.Fprintln(w, renderStatusLine("Duration", statusInfo, report.Duration().Round(time.Millisecond).String(), colorize))
	fmt.Fprintln(w, renderStatusLine("Items", statusInfo, strconv.Itoa(counts.Total), colorize))
	fmt.Fprintln(w, renderStatusLine("Succeeded", statusOK, strconv.Itoa(counts.Succeeded), colorize))
	skipKind := statusInfo
	if counts.Skipped > 0 {
		skipKind = statusWarn
	}
	fmt.Fprintln(w, renderStatusLine("Skipped", skipKind, strconv.Itoa(counts.Skipped), colorize))
	failKind := statusOK
	if counts.Failed > 0 {
		failKind = statusError
	}
	fmt.Fprintln(w, renderStatusLine("Failed", failKind, strconv.Itoa(counts.Failed), colorize))

	var rows [][]string
	for _, o := range report.Outcomes {
		if o.State != ingest.StateFailed && o.State != ingest.StateSkipped {
			continue
		}
		rows = append(rows, []string{o.ID, string(o.State), string(o.Reason), truncate(o.Detail, detailWidth)})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTable([]string{"Item", "State", "Reason", "Detail"}, rows, nil))
	}
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, width int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width-3]) + "..."
}
