//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr creates a new process group so console control events
// sent to the supervisor are not delivered to the bots.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
