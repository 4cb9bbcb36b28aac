package ui

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Rendering is gated on a TTY; both widgets must be safe to drive either way.
func TestWidgets_SafeWithoutTerminal(t *testing.T) {
	sp := NewSpinner("running gocyclo")
	assert.NotPanics(t, func() {
		sp.Start()
		sp.UpdateMessage("running golangci-lint")
		sp.Stop()
	})

	p := NewProgress("analyzing", 4)
	assert.NotPanics(t, func() {
		p.Done()
		p.Close()
	})
	assert.Nil(t, NewProgress("analyzing", 0).bar)
}

func TestTerminalWidth_Fallback(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	assert.Equal(t, DefaultWidth, TerminalWidth(f))
}
