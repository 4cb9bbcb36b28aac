package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false)
	logger.Debug("hidden")
	logger.Info("shown", "tool", "gocyclo")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "tool=gocyclo")
	assert.NotContains(t, out, "time=")

	buf.Reset()
	New(&buf, true).Debug("visible")
	assert.Contains(t, buf.String(), "level=DEBUG")
}
