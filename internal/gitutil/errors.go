package gitutil

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/samzong/qualgate/internal/gitcmd"
)

// WrapGitError builds an error message that prefers git stderr output when present.
func WrapGitError(action string, result gitcmd.Result, err error) error {
	errMsg := strings.TrimSpace(string(result.Stderr))
	if errMsg != "" {
		return fmt.Errorf("%s: %s: %w", action, errMsg, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}

// ExitCode returns the process exit code carried by err, or -1 when err
// did not come from a finished process.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
