package ui

import (
	"os"

	"golang.org/x/term"
)

// DefaultWidth is used when the output is not a terminal.
const DefaultWidth = 100

// TerminalWidth returns the column count of f, or DefaultWidth.
func TerminalWidth(f *os.File) int {
	if !IsInteractive(f) {
		return DefaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return DefaultWidth
	}
	return width
}
