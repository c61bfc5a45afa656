//go:build windows

package control

import (
	"os/exec"
	"syscall"
)

// DETACHED_PROCESS is the Windows process creation flag that starts a
// process without a console window.
const DETACHED_PROCESS = 0x00000008

// detach starts the server in its own process group, independent of the
// parent console.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | DETACHED_PROCESS,
	}
}
