package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// statusKind grades one health check line.
type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

type statusStyle struct {
	badge  string
	colors text.Colors
}

var statusStyles = map[statusKind]statusStyle{
	statusInfo:  {badge: "INFO", colors: text.Colors{text.FgBlue}},
	statusOK:    {badge: "OK", colors: text.Colors{text.FgGreen}},
	statusWarn:  {badge: "WARN", colors: text.Colors{text.FgYellow}},
	statusError: {badge: "FAIL", colors: text.Colors{text.FgRed, text.Bold}},
}

const statusLabelWidth = 14

// renderStatusLine formats "  Label:  [BADGE] message" for the health report.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style, ok := statusStyles[kind]
	if !ok {
		style = statusStyles[statusInfo]
	}
	line := fmt.Sprintf("  %-*s [%s]", statusLabelWidth, label+":", style.badge)
	if message = strings.TrimSpace(message); message != "" {
		line += " " + message
	}
	if colorize {
		return style.colors.Sprint(line)
	}
	return line
}

func renderSectionHeader(title string, colorize bool) []string {
	title = strings.TrimSpace(title)
	rule := strings.Repeat("─", utf8.RuneCountInString(title))
	if colorize {
		bold := text.Colors{text.Bold}
		return []string{bold.Sprint(title), rule}
	}
	return []string{title, rule}
}

// shouldColorize honours NO_COLOR and only colours terminals.
func shouldColorize(w io.Writer) bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}
