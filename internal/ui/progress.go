package ui

import (
	"os"

	"github.com/schollz/progressbar/v3"
)

// Progress counts finished units of work. It renders only on a TTY.
type Progress struct {
	bar *progressbar.ProgressBar
}

// NewProgress creates a progress bar for total units.
func NewProgress(description string, total int) *Progress {
	if total <= 0 || !IsInteractive(os.Stderr) {
		return &Progress{}
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(18),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &Progress{bar: bar}
}

// Done marks one unit finished. Safe for concurrent use.
func (p *Progress) Done() {
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

// Close finishes the bar.
func (p *Progress) Close() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
