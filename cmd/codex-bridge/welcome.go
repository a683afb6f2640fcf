package main

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

const (
	sgrReset     = "\033[0m"
	sgrBold      = "\033[1m"
	sgrCyan      = "\033[96m"
	sgrUnderline = "\033[4m"
	sgrDim       = "\033[2m"
)

var sgrPattern = regexp.MustCompile("\033\\[[0-9;]*m")

type welcomeBannerOptions struct {
	Version   string
	Port      int
	Workspace string
}

// printWelcomeBanner writes the startup summary. Styling is applied only when
// w is a terminal.
func printWelcomeBanner(w io.Writer, opts welcomeBannerOptions) {
	width, styled := terminalInfo(w)

	type row struct{ label, value string }
	var rows []row
	if v := strings.TrimSpace(opts.Version); v != "" {
		rows = append(rows, row{"Version", v})
	}
	if opts.Port > 0 {
		rows = append(rows, row{"Chat UI", sgr(fmt.Sprintf("http://localhost:%d/", opts.Port), styled, sgrCyan, sgrUnderline)})
	}
	if ws := strings.TrimSpace(opts.Workspace); ws != "" {
		rows = append(rows, row{"Workspace", ws})
	}

	labelWidth := 0
	for _, r := range rows {
		labelWidth = max(labelWidth, len(r.label))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, center(sgr("codex-bridge", styled, sgrBold), width))
	for _, r := range rows {
		label := sgr(fmt.Sprintf("%-*s", labelWidth, r.label), styled, sgrDim)
		fmt.Fprintln(w, center(label+"  "+r.value, width))
	}
	fmt.Fprintln(w)
}

func terminalInfo(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 0, true
	}
	return width, true
}

func sgr(s string, enabled bool, codes ...string) string {
	if !enabled || len(codes) == 0 {
		return s
	}
	return strings.Join(codes, "") + s + sgrReset
}

// visibleLen counts runes outside SGR escape sequences.
func visibleLen(s string) int {
	return utf8.RuneCountInString(sgrPattern.ReplaceAllString(s, ""))
}

// center pads text to the middle of width. Without a known width the text is
// indented by two spaces.
func center(text string, width int) string {
	if width <= 0 {
		return "  " + text
	}
	n := visibleLen(text)
	if n >= width {
		return text
	}
	return strings.Repeat(" ", (width-n)/2) + text
}
