// Package procgroup makes cancelled child processes go away together with
// everything they started.
package procgroup

import (
	"os/exec"
	"time"
)

// WaitDelay bounds how long Wait blocks on output pipes after the process
// was killed. Grandchildren that escaped the kill can hold them open.
const WaitDelay = 3 * time.Second

// Bind prepares cmd so that cancelling its context kills the whole
// process tree and Wait returns promptly afterwards. It must be called
// before cmd is started.
func Bind(cmd *exec.Cmd) {
	cmd.WaitDelay = WaitDelay
	bind(cmd)
}
