package output

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tanq16/splitfetch/internal/utils"
	"golang.org/x/term"
)

// IsTerminal reports whether stdout can host the live display.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func renderBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	current = max(0, min(current, total))
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, StyleSymbols["bullet"])
}

// progressLine renders done/total plus the speed of the bytes fetched in this
// run. An unknown total shows only the counts.
func progressLine(done, total, added int64, elapsed time.Duration) string {
	speed := utils.FormatSpeed(added, elapsed.Seconds())
	if total <= 0 {
		return fmt.Sprintf("%s %s %s", utils.FormatBytes(uint64(max(done, 0))), StyleSymbols["bullet"], speed)
	}
	return fmt.Sprintf("%s%s / %s %s %s", renderBar(done, total, 30),
		utils.FormatBytes(uint64(max(done, 0))), utils.FormatBytes(uint64(total)), StyleSymbols["bullet"], speed)
}

func getTerminalSize() (width, height int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 || height <= 0 {
		return 80, 24
	}
	return width, height
}

func wrapText(text string, indent, termWidth int) []string {
	maxWidth := termWidth - indent - 2
	if maxWidth <= 10 {
		maxWidth = 80
	}
	if utf8.RuneCountInString(text) <= maxWidth {
		return []string{text}
	}
	var lines []string
	var current strings.Builder
	width := 0
	for _, r := range text {
		if width+1 > maxWidth {
			lines = append(lines, current.String())
			current.Reset()
			width = 0
		}
		current.WriteRune(r)
		width++
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
