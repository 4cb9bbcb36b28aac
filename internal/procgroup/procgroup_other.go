//go:build !unix

package procgroup

import "os/exec"

// Without process groups only the direct child is killed; WaitDelay
// still keeps Wait from hanging on inherited pipes.
func bind(*exec.Cmd) {}
