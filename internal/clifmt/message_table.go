package clifmt

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/athlete-space/coachmem/internal/chatmsg"
)

const (
	defaultTableWidth   = 100
	minContentWidth     = 36
	summaryRoleLabel    = "summary"
	contentColumnHeader = "CONTENT"
)

// PrintMessageTable renders conversation history as an indexed table with
// the content column wrapped to the terminal width.
func PrintMessageTable(out io.Writer, title string, messages []chatmsg.Message) {
	if out == nil {
		out = os.Stdout
	}

	if title = strings.TrimSpace(title); title != "" {
		fmt.Fprintln(out, Headerf("%s (%d)", title, len(messages)))
	}
	if len(messages) == 0 {
		fmt.Fprintln(out, Warn("No messages."))
		return
	}

	indexWidth := utf8.RuneCountInString(strconv.Itoa(len(messages) - 1))
	if indexWidth < 1 {
		indexWidth = 1
	}
	roleWidth := len("ROLE")
	tokenWidth := len("TOKENS")
	for _, msg := range messages {
		if w := utf8.RuneCountInString(roleLabel(msg)); w > roleWidth {
			roleWidth = w
		}
		if w := len(strconv.Itoa(msg.Tokens)); w > tokenWidth {
			tokenWidth = w
		}
	}
	contentWidth := contentColumnWidth(out, indexWidth, roleWidth, tokenWidth)

	fmt.Fprintf(out, "%s  %s  %s  %s\n",
		Key(padRight("#", indexWidth)),
		Key(padRight("ROLE", roleWidth)),
		Key(padRight("TOKENS", tokenWidth)),
		Key(contentColumnHeader),
	)
	fmt.Fprintf(out, "%s  %s  %s  %s\n",
		Dim(strings.Repeat("-", indexWidth)),
		Dim(strings.Repeat("-", roleWidth)),
		Dim(strings.Repeat("-", tokenWidth)),
		Dim(strings.Repeat("-", contentWidth)),
	)

	for i, msg := range messages {
		lines := wrapText(msg.Content, contentWidth)
		fmt.Fprintf(out, "%s  %s  %s  %s\n",
			Dim(padRight(strconv.Itoa(i), indexWidth)),
			Success(padRight(roleLabel(msg), roleWidth)),
			padRight(strconv.Itoa(msg.Tokens), tokenWidth),
			lines[0],
		)
		indent := strings.Repeat(" ", indexWidth+roleWidth+tokenWidth+4)
		for _, line := range lines[1:] {
			fmt.Fprintf(out, "%s  %s\n", indent, line)
		}
	}
}

func roleLabel(msg chatmsg.Message) string {
	if msg.IsSummary() {
		return summaryRoleLabel
	}
	return string(msg.Role)
}

func contentColumnWidth(out io.Writer, indexWidth, roleWidth, tokenWidth int) int {
	width := defaultTableWidth
	if file, ok := out.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		if terminalWidth, _, err := term.GetSize(int(file.Fd())); err == nil && terminalWidth > 0 {
			width = terminalWidth
		}
	}
	contentWidth := width - indexWidth - roleWidth - tokenWidth - 6
	if contentWidth < minContentWidth {
		contentWidth = minContentWidth
	}
	return contentWidth
}

func padRight(s string, width int) string {
	missing := width - utf8.RuneCountInString(s)
	if missing <= 0 {
		return s
	}
	return s + strings.Repeat(" ", missing)
}

func wrapText(text string, width int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{""}
	}
	if width <= 0 {
		return []string{text}
	}

	words := strings.Fields(text)
	lines := make([]string, 0, len(words))
	current := ""
	flush := func() {
		if current != "" {
			lines = append(lines, current)
			current = ""
		}
	}
	for _, word := range words {
		for utf8.RuneCountInString(word) > width {
			flush()
			runes := []rune(word)
			lines = append(lines, string(runes[:width]))
			word = string(runes[width:])
		}
		switch {
		case current == "":
			current = word
		case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(word) <= width:
			current += " " + word
		default:
			flush()
			current = word
		}
	}
	flush()
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
