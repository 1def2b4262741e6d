package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"docflow/internal/document"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var (
	ansiReset = text.Reset.EscapeSeq()
	ansiRed   = text.FgRed.EscapeSeq()
)

type kindStyle struct {
	label string
	color text.Color
}

var kindStyles = map[statusKind]kindStyle{
	statusInfo:  {"INFO", text.FgBlue},
	statusOK:    {"OK", text.FgGreen},
	statusWarn:  {"WARN", text.FgYellow},
	statusError: {"ERROR", text.FgRed},
}

func (k statusKind) style() kindStyle {
	if s, ok := kindStyles[k]; ok {
		return s
	}
	return kindStyles[statusInfo]
}

const labelWidth = 20

// renderStatusLine formats "  Label:  [KIND] message", coloured as a whole
// when colorize is set.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  %-*s [%s]", labelWidth, label+":", kind.style().label)
	if message != "" {
		b.WriteString(" ")
		b.WriteString(message)
	}
	return colorizeText(b.String(), kind, colorize)
}

// coarseKind maps a document's coarse status onto a display colour.
func coarseKind(status document.CoarseStatus) statusKind {
	switch status {
	case document.StatusCompleted:
		return statusOK
	case document.StatusFailed:
		return statusError
	case document.StatusProcessing:
		return statusWarn
	default:
		return statusInfo
	}
}

func colorizeText(value string, kind statusKind, colorize bool) string {
	if !colorize {
		return value
	}
	return kind.style().color.EscapeSeq() + value + ansiReset
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	rule := strings.Repeat("-", text.StringWidthWithoutEscSequences(heading))
	return []string{
		colorizeText(heading, statusInfo, colorize),
		colorizeText(rule, statusInfo, colorize),
	}
}

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
