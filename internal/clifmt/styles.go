// Package clifmt renders human-facing CLI output. Styling degrades to plain
// text when stdout is not a terminal.
package clifmt

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

var styled = term.IsTerminal(int(os.Stdout.Fd()))

func style(code, s string) string {
	if !styled {
		return s
	}
	return code + s + ansiReset
}

func Headerf(format string, args ...any) string {
	return style(ansiBold, fmt.Sprintf(format, args...))
}

func Key(s string) string { return style(ansiCyan, s) }

func Dim(s string) string { return style(ansiDim, s) }

func Success(s string) string { return style(ansiGreen, s) }

func Warn(s string) string { return style(ansiYellow, s) }
